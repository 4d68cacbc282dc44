// internal/ble/protocol/commands.go
package protocol

import (
	"encoding/binary"
	"time"
)

// EncodeTime builds the 7-byte time-sync payload written to the Time
// characteristic: year as unsigned 16-bit little-endian, then month, day,
// hour, minute, second as single bytes.
func EncodeTime(t time.Time) []byte {
	b := make([]byte, 7)
	binary.LittleEndian.PutUint16(b[0:2], uint16(t.Year()))
	b[2] = byte(t.Month())
	b[3] = byte(t.Day())
	b[4] = byte(t.Hour())
	b[5] = byte(t.Minute())
	b[6] = byte(t.Second())
	return b
}

// FileRequest builds the command payload requesting a log file download.
func FileRequest(filename string) []byte {
	return []byte("GET:" + filename)
}

// PumpCommand builds the payload triggering the logger's watering pump.
func PumpCommand() []byte {
	return []byte("PUMP")
}

// LogFileName returns the logger's file name for the given date
// (YYYY-MM-DD.txt).
func LogFileName(t time.Time) string {
	return t.Format("2006-01-02") + ".txt"
}
