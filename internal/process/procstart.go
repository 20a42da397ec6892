package process

// sameProcess reports whether pid still refers to the process whose start
// time was recorded at launch. Unknown start times are not treated as reuse;
// the signal call itself then decides whether the process is gone.
func sameProcess(pid int, startUnix int64) bool {
	if pid <= 0 {
		return false
	}
	if startUnix == 0 {
		return true
	}
	now := getProcStartUnix(pid)
	return now == 0 || now == startUnix
}
