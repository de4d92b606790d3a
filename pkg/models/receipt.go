package models

// ReceiptRecord is written once per consumption by a surface process.
type ReceiptRecord struct {
	MessageID        string `json:"messageId"`
	ConsumedAtMillis int64  `json:"consumedAtMillis"`
}

// DistinctMessageIDs returns the message ids of records in first-seen order.
func DistinctMessageIDs(records []ReceiptRecord) []string {
	seen := make(map[string]struct{}, len(records))
	ids := make([]string, 0, len(records))
	for _, r := range records {
		if _, ok := seen[r.MessageID]; ok {
			continue
		}
		seen[r.MessageID] = struct{}{}
		ids = append(ids, r.MessageID)
	}
	return ids
}
