package errors

// Code identifies a class of indexer agent failure.
type Code string

const (
	CodeUnknown Code = "IE000"

	// Validation
	CodeInvalidIdentifier      Code = "IE001"
	CodeInvalidProtocolNetwork Code = "IE002"
	CodeMissingActionField     Code = "IE003"
	CodeInvalidOrderBy         Code = "IE004"

	// Constraint
	CodeDuplicateAction     Code = "IE010"
	CodeActionNotFound      Code = "IE011"
	CodeRecentlyExecuted    Code = "IE012"
	CodeInsufficientStake   Code = "IE013"
	CodeDeploymentNotFound  Code = "IE014"
	CodeAllocationNotActive Code = "IE015"

	// Preparation
	CodeNoPOI             Code = "IE018"
	CodePOIDisagreement   Code = "IE019"
	CodeSameEpochClose    Code = "IE020"
	CodeAllocationExists  Code = "IE021"
	CodeAllocationOnchain Code = "IE042"
	CodeZeroAmount        Code = "IE043"

	// Execution
	CodeNeverMined           Code = "IE060"
	CodeOperatorUnauthorized Code = "IE061"
	CodeProtocolPaused       Code = "IE067"

	// External reads
	CodeSubgraphQuery  Code = "IE070"
	CodeChainRead      Code = "IE071"
	CodeGraphNodeError Code = "IE072"

	// Fatal
	CodeMisconfiguration Code = "IE090"
)

var messages = map[Code]string{
	CodeUnknown:                "unknown error",
	CodeInvalidIdentifier:      "invalid identifier",
	CodeInvalidProtocolNetwork: "invalid protocol network",
	CodeMissingActionField:     "missing required action field",
	CodeInvalidOrderBy:         "invalid order by parameter",
	CodeDuplicateAction:        "duplicate action in queue",
	CodeActionNotFound:         "action not found",
	CodeRecentlyExecuted:       "recently executed action in queue",
	CodeInsufficientStake:      "insufficient free stake",
	CodeDeploymentNotFound:     "deployment not found on the network",
	CodeAllocationNotActive:    "allocation is not active",
	CodeNoPOI:                  "no proof of indexing available",
	CodePOIDisagreement:        "proof of indexing disagreement",
	CodeSameEpochClose:         "allocation cannot close in its opening epoch",
	CodeAllocationExists:       "active allocation already exists",
	CodeAllocationOnchain:      "allocation id already exists onchain",
	CodeZeroAmount:             "allocation amount must be positive",
	CodeNeverMined:             "transaction was never mined",
	CodeOperatorUnauthorized:   "Operator not authorized",
	CodeProtocolPaused:         "the protocol is paused",
	CodeSubgraphQuery:          "subgraph query failed",
	CodeChainRead:              "chain read failed",
	CodeGraphNodeError:         "graph node request failed",
	CodeMisconfiguration:       "invalid agent configuration",
}
