package errors

import "testing"

func BenchmarkGuard(b *testing.B) {
	b.Run("no panic", func(b *testing.B) {
		for b.Loop() {
			_ = Guard("bench", func() error { return nil })
		}
	})

	b.Run("panic", func(b *testing.B) {
		for b.Loop() {
			_ = Guard("bench", func() error { panic(errGuarded) })
		}
	})
}
