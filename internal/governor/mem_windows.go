package governor

import (
	"fmt"
	"runtime"
	"syscall"
	"unsafe"
)

type memoryStatusEx struct {
	dwLength                uint32
	dwMemoryLoad            uint32
	ullTotalPhys            uint64
	ullAvailPhys            uint64
	ullTotalPageFile        uint64
	ullAvailPageFile        uint64
	ullTotalVirtual         uint64
	ullAvailVirtual         uint64
	ullAvailExtendedVirtual uint64
}

func readMemInfo() (MemInfo, error) {
	kernel32, err := syscall.LoadDLL("kernel32.dll")
	if err != nil {
		return MemInfo{}, fmt.Errorf("load kernel32.dll: %w", err)
	}
	defer kernel32.Release()

	proc, err := kernel32.FindProc("GlobalMemoryStatusEx")
	if err != nil {
		return MemInfo{}, fmt.Errorf("find GlobalMemoryStatusEx: %w", err)
	}

	var st memoryStatusEx
	st.dwLength = uint32(unsafe.Sizeof(st))
	ret, _, callErr := proc.Call(uintptr(unsafe.Pointer(&st)))
	if ret == 0 {
		return MemInfo{}, fmt.Errorf("GlobalMemoryStatusEx: %w", callErr)
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return MemInfo{ResidentBytes: ms.Sys, TotalBytes: st.ullTotalPhys}, nil
}
