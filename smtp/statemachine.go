package smtp

import "sort"

// stateEntry pairs the parser production used for one verb in one state
// with the state the session moves to once the resulting Command executes
// successfully. Execution itself (package server) decides whether it
// actually succeeded; on failure the session stays in its current state.
type stateEntry struct {
	parse ParseFunc
	next  State
}

// table is built once at package init: table[state][verb] gives the entry
// for a legal (state, verb) pair. A missing verb key under a present state
// means "known command, wrong state" (503); a verb absent from knownVerbs
// entirely means "unrecognised command" (500).
var table map[State]map[string]stateEntry

// allowedVerbs caches, per state, the sorted list of verbs legal in that
// state, used to compose the 503 reply's "expected one of" list.
var allowedVerbs map[State][]string

func init() {
	authAndTLSAndHousekeeping := map[string]stateEntry{
		VerbAUTH:     {parse: ParseAUTH, next: -1},
		VerbSTARTTLS: {parse: noArgs(VerbSTARTTLS), next: -1},
		VerbNOOP:     {parse: noArgs(VerbNOOP), next: -1},
		VerbRSET:     {parse: noArgs(VerbRSET), next: WaitingForMail},
		VerbQUIT:     {parse: noArgs(VerbQUIT), next: -1},
		VerbVRFY:     {parse: ParseVRFY, next: -1},
	}

	table = map[State]map[string]stateEntry{
		Initialized: merge(authAndTLSAndHousekeeping, map[string]stateEntry{
			VerbHELO: {parse: parseHeloLike(VerbHELO), next: WaitingForMail},
			VerbEHLO: {parse: parseHeloLike(VerbEHLO), next: WaitingForMail},
		}),
		WaitingForMail: merge(authAndTLSAndHousekeeping, map[string]stateEntry{
			VerbHELO: {parse: parseHeloLike(VerbHELO), next: WaitingForMail},
			VerbEHLO: {parse: parseHeloLike(VerbEHLO), next: WaitingForMail},
			VerbMAIL: {parse: ParseMAIL, next: WithinTransaction},
		}),
		WithinTransaction: merge(authAndTLSAndHousekeeping, map[string]stateEntry{
			VerbHELO: {parse: parseHeloLike(VerbHELO), next: WaitingForMail},
			VerbEHLO: {parse: parseHeloLike(VerbEHLO), next: WaitingForMail},
			// A second MAIL before any RCPT recycles the transaction
			// (RSET-equivalent reset, see handleMAIL) rather than erroring;
			// the resulting state is the same WithinTransaction a first MAIL
			// reaches from WaitingForMail.
			VerbMAIL: {parse: ParseMAIL, next: WithinTransaction},
			VerbRCPT: {parse: ParseRCPT, next: CanAcceptData},
		}),
		CanAcceptData: merge(authAndTLSAndHousekeeping, map[string]stateEntry{
			VerbHELO: {parse: parseHeloLike(VerbHELO), next: WaitingForMail},
			VerbEHLO: {parse: parseHeloLike(VerbEHLO), next: WaitingForMail},
			VerbRCPT: {parse: ParseRCPT, next: CanAcceptData},
			VerbDATA: {parse: noArgs(VerbDATA), next: WaitingForMail},
		}),
	}

	allowedVerbs = make(map[State][]string, len(table))
	for state, verbs := range table {
		names := make([]string, 0, len(verbs))
		for v := range verbs {
			names = append(names, v)
		}
		sort.Strings(names)
		allowedVerbs[state] = names
	}
}

func merge(base, extra map[string]stateEntry) map[string]stateEntry {
	out := make(map[string]stateEntry, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// Lookup resolves a (state, verb) pair against the state table. ok is false
// when verb is entirely unknown (500) or known but illegal in state (503);
// known distinguishes the two so the session can choose the right reply.
func Lookup(state State, verb string) (entry stateEntry, known, ok bool) {
	verbs, stateOK := table[state]
	if !stateOK {
		return stateEntry{}, IsKnownVerb(verb), false
	}
	e, has := verbs[verb]
	if !has {
		return stateEntry{}, IsKnownVerb(verb), false
	}
	return e, true, true
}

// Parse is the entry for entry.parse, exported via the stateEntry accessor
// so callers outside the package (server.Session) can invoke it without
// reaching into an unexported field.
func (e stateEntry) Parse(tok *Tokenizer) (*Command, *Response) {
	return e.parse(tok)
}

// NextState returns the state a successful execution of this entry's
// command moves to. A value of -1 means "no change" (AUTH/STARTTLS/NOOP/
// QUIT/VRFY do not themselves advance the MAIL/RCPT/DATA sequence).
func (e stateEntry) NextState(current State) State {
	if e.next == State(-1) {
		return current
	}
	return e.next
}

// AllowedVerbs returns the verbs legal in state, for composing diagnostic
// 503 replies.
func AllowedVerbs(state State) []string {
	return allowedVerbs[state]
}
