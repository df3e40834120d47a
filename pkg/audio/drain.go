package audio

// Drain consumes ch until it is closed, discarding every value. Attach it to
// a speech stream whose consumer has gone away so the producer never blocks
// on a full channel during teardown.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
