package telemetry

import (
	"strconv"

	"b91/hota/ota"
)

// StatusHook returns an ota status hook that records each transition as
// a log entry and an "ota.status" gauge. A cancelled update is logged as a
// warning. Rebooting and rolling back pause queueing; the caller resumes
// once the board is back up.
func StatusHook() func(ota.Status, int) {
	return func(s ota.Status, partition int) {
		msg := "ota:" + s.String() + " partition=" + strconv.Itoa(partition)
		if s == ota.StatusCancelled {
			LogWarn(msg)
		} else {
			LogInfo(msg)
		}
		RecordGauge("ota.status", int64(s))
		switch s {
		case ota.StatusDownloading:
			RecordCounter("ota.sessions", 1)
		case ota.StatusRebooting, ota.StatusRollingBack:
			Pause()
		}
	}
}
