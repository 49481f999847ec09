package textview

import "github.com/atotto/clipboard"

// Clipboard abstracts the system clipboard so tests can capture copies and
// script pastes.
type Clipboard interface {
	WriteAll(text string) error
	ReadAll() (string, error)
}

// SystemClipboard bridges to the OS clipboard.
type SystemClipboard struct{}

var _ Clipboard = SystemClipboard{}

func (SystemClipboard) WriteAll(text string) error {
	return clipboard.WriteAll(text)
}

func (SystemClipboard) ReadAll() (string, error) {
	return clipboard.ReadAll()
}
