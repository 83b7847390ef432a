// Package epub reads and writes the zip container that holds an EPUB.
//
// Extract materializes an archive into a workspace directory while refusing
// entries whose names would land outside it. Repack walks a directory tree
// and emits a deterministic archive: sorted entry names, fixed timestamps and
// modes, the EPUB mimetype entry first and stored. WriteAtomic wraps Repack
// with a temporary sibling file, optional digest verification, and a rename
// so the destination is either the old archive or the complete new one.
package epub
