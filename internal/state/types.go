// Package state maps the filesystem image into memory and keeps it on disk.
package state

// Image is a mapped arena image.
type Image struct {
	// Raw image bytes. Writes land directly in the mapping and reach the
	// backing file on Flush or Close.
	Data []byte

	// Backing file, empty for an anonymous in-memory image
	Path string

	// Fresh is true when the image was just created and is all zeroes.
	Fresh bool
}

// backup is one saved copy of the image in the backup directory.
type backup struct {
	path string
	name string
}
