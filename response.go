package imapconn

// StatusRespType is the kind of a status response (RFC 3501 section 7.1).
type StatusRespType string

const (
	OK      StatusRespType = "OK"
	NO      StatusRespType = "NO"
	BAD     StatusRespType = "BAD"
	PREAUTH StatusRespType = "PREAUTH"
	BYE     StatusRespType = "BYE"
)

// RespTextCode is a bracketed response code such as [CAPABILITY ...] or
// [READ-ONLY].
type RespTextCode struct {
	Code string
	Args []string
}

// Greeting is the server's first unsolicited response (spec.md §3).
type Greeting struct {
	Type StatusRespType // OK, PREAUTH or BYE
	Code *RespTextCode
	Text string
}

// StatusResp is a tagged or untagged OK/NO/BAD/PREAUTH/BYE status
// response.
type StatusResp struct {
	// Tag is empty for an untagged status response.
	Tag  string
	Type StatusRespType
	Code *RespTextCode
	Text string
}

// ContinuationReq is a "+" response inviting the client to send a literal
// or a SASL challenge response.
type ContinuationReq struct {
	Text string
}

// ResponseData is an untagged "*" response: mailbox-data (LIST, FLAGS,
// ...), message-data (EXISTS, EXPUNGE, FETCH, ...), capability-data, or an
// untagged status response carried in Status.
type ResponseData struct {
	// Tag is the response-data keyword, e.g. "LIST", "CAPABILITY",
	// "EXISTS". For message-data with a leading number (e.g.
	// "3 EXPUNGE"), Num holds that number and Tag holds the keyword.
	Tag string
	Num uint32
	// HasNum reports whether Num is meaningful.
	HasNum bool
	// Fields holds the parsed remainder of the line for mailbox-data
	// and capability-data; atoms are strings, parenthesized lists are
	// []interface{}, quoted strings are strings, NIL is nil.
	Fields []interface{}
	// Status is set instead of Fields when this response-data line is
	// itself an untagged status response (e.g. "* OK ...").
	Status *StatusResp
}

// Response is the parsed result of read_response: the untagged items
// (continuation requests and response-data) seen while waiting for the
// matching tagged completion, plus that completion itself.
type Response struct {
	Data []interface{} // *ContinuationReq or *ResponseData, in arrival order
	Done *StatusResp   // always tagged once parsing succeeds
}

// ContinuationRequests filters Data down to the continuation requests.
func (r *Response) ContinuationRequests() []*ContinuationReq {
	var out []*ContinuationReq
	for _, d := range r.Data {
		if c, ok := d.(*ContinuationReq); ok {
			out = append(out, c)
		}
	}
	return out
}

// CapabilityData returns the atoms of the first capability-data entry in
// Data, if any, honoring both a bare "* CAPABILITY ..." response-data
// line and a "CAPABILITY" response-text-code on an embedded status.
func (r *Response) CapabilityData() ([]string, bool) {
	for _, d := range r.Data {
		rd, ok := d.(*ResponseData)
		if !ok {
			continue
		}
		if rd.Tag == "CAPABILITY" {
			return stringFields(rd.Fields), true
		}
		if rd.Status != nil && rd.Status.Code != nil && rd.Status.Code.Code == "CAPABILITY" {
			return rd.Status.Code.Args, true
		}
	}
	if r.Done != nil && r.Done.Code != nil && r.Done.Code.Code == "CAPABILITY" {
		return r.Done.Code.Args, true
	}
	return nil, false
}

// ListEntries returns the mailbox-data entries for the given keyword
// ("LIST" or "LSUB"), each as (flags, delimiter, name).
func (r *Response) ListEntries(keyword string) []ListEntry {
	var out []ListEntry
	for _, d := range r.Data {
		rd, ok := d.(*ResponseData)
		if !ok || rd.Tag != keyword {
			continue
		}
		entry := parseListFields(rd.Fields)
		out = append(out, entry)
	}
	return out
}

// ListEntry is one parsed LIST/LSUB mailbox-data line.
type ListEntry struct {
	Flags     []string
	Delimiter string // empty string means NIL, i.e. no hierarchy
	Name      string
}

func parseListFields(fields []interface{}) ListEntry {
	var e ListEntry
	if len(fields) > 0 {
		if flags, ok := fields[0].([]interface{}); ok {
			e.Flags = stringFields(flags)
		}
	}
	if len(fields) > 1 {
		if s, ok := fields[1].(string); ok {
			e.Delimiter = s
		}
	}
	if len(fields) > 2 {
		if s, ok := fields[2].(string); ok {
			e.Name = s
		}
	}
	return e
}

func stringFields(fields []interface{}) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if s, ok := f.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
