package mysql

// Protocol distinguishes the text result-set protocol (COM_QUERY) from
// the binary one (COM_STMT_EXECUTE). No code uses it: the executor picks
// row encoding by which Engine method was called.
type Protocol int

const (
	ProtocolText Protocol = iota
	ProtocolBinary
)
