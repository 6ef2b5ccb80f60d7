// Package manifest implements atomic persistence of a container's node tree.
//
// A manifest lists every published node of a container: its path, kind,
// element type, shape, encoded attributes and the chunk blobs holding its
// data. A node that is not in the current manifest does not exist, which is
// what makes multi-blob writes all-or-nothing.
//
// # Binary Format
//
//	Header (16 bytes):
//	  Magic    (4 bytes) - 0x414E444D ("ANDM")
//	  Version  (4 bytes) - Format version (currently 1)
//	  Checksum (4 bytes) - CRC32-IEEE of payload
//	  Length   (4 bytes) - Payload length in bytes
//
//	Payload:
//	  ID         (8 bytes) - Manifest version ID
//	  CreatedAt  (8 bytes) - Unix nanoseconds
//	  Codec      (string)  - Attribute codec name
//	  NumNodes   (4 bytes)
//	  Nodes[]:
//	    Path (string), Kind, DType, Encoding (1 byte each)
//	    NDim (1 byte), Shape (8 bytes per dim)
//	    Attrs (4-byte length + bytes)
//	    NumComponents (2 bytes)
//	    Components[]: Role (string), Blob (string), Size (8 bytes), Length (8 bytes)
//
// Strings are length-prefixed (2-byte length + bytes).
//
// # Atomic Protocol
//
//  1. Write the manifest blob to MANIFEST-NNNNNN.bin
//  2. Atomically replace the CURRENT pointer with that name
//
// Load reads CURRENT and then the manifest it names. All Store methods are
// safe for concurrent use.
package manifest
