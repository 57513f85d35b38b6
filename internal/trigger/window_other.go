//go:build !windows

package trigger

// headlessWindows is used where there is no window stack to restack. A running
// process counts as ready as soon as it exists, and foregrounding is a no-op.
type headlessWindows struct{}

func platformWindows() WindowFinder {
	return headlessWindows{}
}

func (headlessWindows) FindWindow(pid int) (WindowHandle, bool) {
	return WindowHandle(pid), pid > 0
}

func (headlessWindows) Foreground(WindowHandle) error {
	return nil
}
