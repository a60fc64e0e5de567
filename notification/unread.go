package notification

// UnreadCount counts the records with read = false. It is the only source of
// the unread number: callers derive it, they never store it.
func UnreadCount(records []Record) int {
	n := 0
	for _, r := range records {
		if !r.Read {
			n++
		}
	}
	return n
}
