package wire

// Textual replies shared by client and server.
const (
	ReplyEventRecorded   = "event recorded"
	ReplyNewDay          = "new day started"
	ReplyNotAuth         = "error: not authenticated"
	ReplyErrorPrefix     = "error: "
	ReplyConsecNoMatch   = "null"
	ReplyConsecNotAuth   = "error"
	ReplyAggregateFailed = -1.0
)
