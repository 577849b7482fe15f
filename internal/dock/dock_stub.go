//go:build !darwin

package dock

// Hide is a no-op on platforms without a Dock.
func Hide() error {
	return nil
}
