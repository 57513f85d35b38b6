//go:build windows

package trigger

import (
	"fmt"
	"sync"

	"golang.org/x/sys/windows"
)

const (
	swpNoSize     = 0x0001
	swpShowWindow = 0x0040
)

// hwndTopmost is HWND_TOPMOST, (HWND)-1.
var hwndTopmost = ^uintptr(0)

var (
	user32           = windows.NewLazySystemDLL("user32.dll")
	procSetWindowPos = user32.NewProc("SetWindowPos")
	procGetWindow    = user32.NewProc("GetWindow")
)

const gwOwner = 4

// enumWindowsCallback is created once; Windows limits how many callbacks a
// process may allocate. The search state it reads is guarded by enumMu.
var (
	enumMu      sync.Mutex
	enumPid     uint32
	enumFound   windows.HWND
	enumOnce    sync.Once
	enumCallbck uintptr
)

func enumWindowsProc(hwnd windows.HWND, _ uintptr) uintptr {
	var pid uint32
	if _, err := windows.GetWindowThreadProcessId(hwnd, &pid); err != nil || pid != enumPid {
		return 1
	}
	if !windows.IsWindowVisible(hwnd) {
		return 1
	}
	// The main window is a visible window without an owner.
	if owner, _, _ := procGetWindow.Call(uintptr(hwnd), gwOwner); owner != 0 {
		return 1
	}
	enumFound = hwnd
	return 0
}

// desktopWindows finds and restacks top-level windows through user32.
type desktopWindows struct{}

func platformWindows() WindowFinder {
	return desktopWindows{}
}

func (desktopWindows) FindWindow(pid int) (WindowHandle, bool) {
	enumOnce.Do(func() {
		enumCallbck = windows.NewCallback(enumWindowsProc)
	})

	enumMu.Lock()
	defer enumMu.Unlock()
	enumPid = uint32(pid)
	enumFound = 0
	// EnumWindows reports an error when the callback stops enumeration early,
	// which is exactly the found case.
	_ = windows.EnumWindows(enumCallbck, nil)
	if enumFound == 0 {
		return 0, false
	}
	return WindowHandle(enumFound), true
}

// Foreground makes h topmost and shows it without resizing.
func (desktopWindows) Foreground(h WindowHandle) error {
	r1, _, err := procSetWindowPos.Call(uintptr(h), hwndTopmost, 0, 0, 0, 0, swpNoSize|swpShowWindow)
	if r1 == 0 {
		return fmt.Errorf("SetWindowPos(%#x): %w", uintptr(h), err)
	}
	return nil
}
