// Package compression packs FAT32 volume images for storage and unpacks them
// again.
//
// A freshly built volume is mostly zeroes: the FAT is nearly empty and the data
// region past the last file was never written. Images are therefore run-length
// encoded first and the result is gzipped. Run-length encoding collapses the
// megabytes of zeroes into a few kilobytes, and gzip then finds the repeating
// structure that's left.
//
// The run-length scheme is RLE8, as used by the BMP file format. A byte that
// occurs N >= 2 times in a row is written twice, followed by one unsigned byte
// holding how many more times it occurs:
//
//	W X X X X X X X X X X X X X X X Y Z Z
//	W X X 13 Y Z Z 0
//
// A run can describe at most 257 bytes; longer runs are split. A run of 300
// "X" bytes is stored as `X X 255 X X 41`. Pairs cost three bytes because the
// count byte is always present.
package compression
