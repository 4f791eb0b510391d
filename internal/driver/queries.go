package driver

// Every instance version is a :Record node. A version stops being the head
// of its GUID when a later commit sets superseded_seq, in the way validity
// intervals are closed by invalid_at on temporal edges.
const (
	AdvanceClockQuery = `
		MERGE (c:Clock {id: 'metastore'})
		ON CREATE SET c.seq = 0, c.last_ms = 0
		SET c.seq = c.seq + 1
		RETURN c.seq AS seq, c.last_ms AS last_ms
	`

	SetClockTimeQuery = `
		MATCH (c:Clock {id: 'metastore'})
		SET c.last_ms = $last_ms
	`

	ReadClockQuery = `
		OPTIONAL MATCH (c:Clock {id: 'metastore'})
		RETURN coalesce(c.seq, 0) AS seq
	`

	HeadSeqQuery = `
		OPTIONAL MATCH (n:Record {grp: $grp, guid: $guid})
		RETURN coalesce(max(n.seq), 0) AS seq
	`

	SupersedeQuery = `
		MATCH (n:Record {grp: $grp, guid: $guid})
		WHERE n.superseded_seq IS NULL
		SET n.superseded_seq = $seq
	`

	CreateRecordQuery = `
		CREATE (n:Record)
		SET n = $props
		RETURN n.guid AS guid
	`

	recordColumns = `RETURN n.seq AS seq, n.recorded_at AS recorded_at, n.body AS body`

	headAt = `n.seq <= $watermark AND (n.superseded_seq IS NULL OR n.superseded_seq > $watermark)`

	GetHeadQuery = `
		MATCH (n:Record {grp: $grp, guid: $guid})
		WHERE ` + headAt + `
		` + recordColumns

	GetHistoryQuery = `
		MATCH (n:Record {grp: $grp, guid: $guid})
		WHERE n.seq <= $watermark
		` + recordColumns + `
		ORDER BY seq
	`

	// ScanQueryFormat takes the pushed-down filter over n.
	ScanQueryFormat = `
		MATCH (n:Record {grp: $grp})
		WHERE ` + headAt + ` AND n.status <> 'DELETED' AND (%s)
		` + recordColumns + `, n.guid AS guid
		ORDER BY guid
	`

	GetRelationshipsForEntityQuery = `
		MATCH (n:Record {grp: 'relationship'})
		WHERE (n.end1_guid = $guid OR n.end2_guid = $guid) AND ` + headAt + ` AND n.status <> 'DELETED'
		` + recordColumns + `, n.guid AS guid
		ORDER BY guid
	`
)

var BaseIndices = []string{
	"CREATE INDEX ON :Record;",
	"CREATE INDEX ON :Record(guid);",
	"CREATE INDEX ON :Record(type_name);",
	"CREATE INDEX ON :Record(end1_guid);",
	"CREATE INDEX ON :Record(end2_guid);",
	"CREATE INDEX ON :Clock(id);",
}
