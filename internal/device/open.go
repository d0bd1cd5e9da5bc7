package device

// New selects the Device implementation matching the given flags, per
// spec §6's environment flags: FlagInMemory picks MemDevice; otherwise a
// file-backed device is used, direct-I/O if both FlagDisableMmap and
// FlagDirectIO are set, plain mmap-backed otherwise.
func New(flags Flags) Device {
	switch {
	case flags&FlagInMemory != 0:
		return &MemDevice{}
	case flags&FlagDisableMmap != 0 && flags&FlagDirectIO != 0:
		return &DirectFileDevice{}
	default:
		return &FileDevice{}
	}
}
