package deid

import (
	"hash/fnv"
	"strconv"
)

// shiftDays derives the per-patient date offset from the surrogate number and
// the run salt. The same surrogate and salt always yield the same offset, so
// intervals between a patient's dates survive shifting. The result lies in
// [-maxShiftDays, maxShiftDays].
func shiftDays(patientNum int64, salt string, maxShiftDays int) int {
	h := fnv.New64a()
	h.Write([]byte(strconv.FormatInt(patientNum, 10)))
	h.Write([]byte{0})
	h.Write([]byte(salt))

	span := uint64(2*maxShiftDays + 1)
	return int(h.Sum64()%span) - maxShiftDays
}
