package validation

const (
	// Password requirements
	MinPasswordLength = 8
	MaxPasswordLength = 72

	// String lengths
	MaxNoteLength      = 140
	MaxReferenceLength = 100
)

// Networks accepted for airtime and data purchases.
var Networks = []string{"mtn", "glo", "airtel", "9mobile"}
