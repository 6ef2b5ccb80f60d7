// Package fs provides filesystem abstractions for testability and fault injection.
//
//   - [LocalFS]: production implementation on top of the os package
//   - [FaultyFS]: test wrapper that fails writes, syncs, closes or renames
//
// The local blob store performs all mutations through a [FileSystem], so a
// test can stop a write at any step and check that nothing partial became
// visible:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("CURRENT", fs.Fault{FailOnRename: true})
//
// Operations take no context.Context. Local syscalls are not interruptible;
// remote stores carry contexts at the blob store layer instead.
package fs
