// Package hash provides the checksum used by chunk files and manifests.
package hash
