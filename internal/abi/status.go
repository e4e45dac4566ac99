package abi

// status codes are the u16 the ABI table of §6 returns from every
// fallible host import; 0 always means success.
const (
	statusOK uint16 = iota
	statusUnknownBuffer
	statusLengthMismatch
	statusNoSuchTable
	statusDuplicate
	statusBadKind
	statusUniqueViolation
	statusTypeMismatch
	statusNoSuchColumn
	statusBadFilter
	statusUnknownIter
	statusNoSuchReducer
	statusBadTime
	statusUnknownSchedule
	statusOOM
	statusInternal
)
