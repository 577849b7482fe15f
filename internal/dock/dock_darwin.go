//go:build darwin

package dock

/*
#cgo CFLAGS: -x objective-c
#cgo LDFLAGS: -framework Cocoa
#import <Cocoa/Cocoa.h>

int setAccessoryPolicy() {
    [NSApplication sharedApplication];
    return [NSApp setActivationPolicy:NSApplicationActivationPolicyAccessory] ? 1 : 0;
}
*/
import "C"

import "fmt"

// Hide removes the app from the Dock and the Cmd-Tab switcher so it lives
// only in the menu bar.
func Hide() error {
	if C.setAccessoryPolicy() == 0 {
		return fmt.Errorf("failed to set accessory activation policy")
	}
	return nil
}
