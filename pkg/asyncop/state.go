package asyncop

// Outcome is the classification of a status payload.
type Outcome int

// Outcomes. Only Succeeded and Failed are terminal.
const (
	Running Outcome = iota
	Succeeded
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "running"
	}
}

// Terminal reports whether no further progress will happen.
func (o Outcome) Terminal() bool {
	return o == Succeeded || o == Failed
}

// State is a server-reported status value for import/export/load/duplicate.
type State string

// Known states. The empty state shows up after a server restart in the middle
// of an operation and is never terminal.
const (
	StateUnknown    State = ""
	StateProcessing State = "Processing"
	StateExported   State = "Exported"
	StateImported   State = "Imported"
	StateLoaded     State = "Loaded"
	StateDuplicated State = "Duplicated"
	StateError      State = "Error"
	StateCancelled  State = "Cancelled"
)

// Vocabulary maps one kind's states to outcomes. Other is used for non-empty
// states missing from Table.
type Vocabulary struct {
	Table map[State]Outcome
	Other Outcome
}

// Classify maps s through the vocabulary. The empty state is always Running.
func (v Vocabulary) Classify(s State) Outcome {
	if s == StateUnknown {
		return Running
	}

	if o, ok := v.Table[s]; ok {
		return o
	}

	return v.Other
}

// Per-kind vocabularies. The load endpoint reports Processing while working
// and a kind-specific done value afterwards, so unknown non-empty load states
// count as success. Export, import and duplicate only finish on the values
// they list.
var (
	ExportVocabulary = Vocabulary{
		Table: map[State]Outcome{
			StateProcessing: Running,
			StateExported:   Succeeded,
			StateError:      Failed,
			StateCancelled:  Failed,
		},
		Other: Running,
	}

	ImportVocabulary = Vocabulary{
		Table: map[State]Outcome{
			StateProcessing: Running,
			StateImported:   Succeeded,
			StateError:      Failed,
			StateCancelled:  Failed,
		},
		Other: Running,
	}

	LoadVocabulary = Vocabulary{
		Table: map[State]Outcome{
			StateProcessing: Running,
			StateLoaded:     Succeeded,
			StateError:      Failed,
			StateCancelled:  Failed,
		},
		Other: Succeeded,
	}

	DuplicateVocabulary = Vocabulary{
		Table: map[State]Outcome{
			StateProcessing: Running,
			StateDuplicated: Succeeded,
			StateError:      Failed,
			StateCancelled:  Failed,
		},
		Other: Running,
	}
)

// VocabularyFor returns the state vocabulary for kinds that report a state
// string. Execute and Configure are tracked through the is-running check and
// have no vocabulary.
func VocabularyFor(k Kind) (Vocabulary, bool) {
	switch k {
	case KindExport:
		return ExportVocabulary, true
	case KindImport:
		return ImportVocabulary, true
	case KindLoad:
		return LoadVocabulary, true
	case KindDuplicate:
		return DuplicateVocabulary, true
	default:
		return Vocabulary{}, false
	}
}

// NodeStatus values reported for workflow nodes by older servers that run
// executions synchronously.
const (
	NodeSynchronized = "synchronized"
	NodeIncomplete   = "incomplete"
)

// ClassifyNode maps a node's status string and error message to an outcome.
// A non-empty error message always means failure.
func ClassifyNode(status, errMsg string) Outcome {
	switch {
	case errMsg != "":
		return Failed
	case status == NodeSynchronized:
		return Succeeded
	case status == NodeIncomplete:
		return Failed
	default:
		return Running
	}
}
