package errs

const (
	ServerInternalError = 500

	ArgsError        = 1001
	RecordNotFound   = 1002
	TokenInvalid     = 1003
	StoreUnavailable = 1101
	PersistFailed    = 1102
	BlockFull        = 1201
	TypeMismatch     = 1202
	CorruptBlock     = 1203
)

var (
	ErrArgs             = NewCodeError(ArgsError, "ArgsError")
	ErrRecordNotFound   = NewCodeError(RecordNotFound, "RecordNotFoundError")
	ErrTokenInvalid     = NewCodeError(TokenInvalid, "TokenInvalidError")
	ErrStoreUnavailable = NewCodeError(StoreUnavailable, "StoreUnavailableError")
	ErrPersist          = NewCodeError(PersistFailed, "PersistError")
	ErrBlockFull        = NewCodeError(BlockFull, "BlockFullError")
	ErrTypeMismatch     = NewCodeError(TypeMismatch, "TypeMismatchError")
	ErrCorruptBlock     = NewCodeError(CorruptBlock, "CorruptBlockError")
	ErrInternal         = NewCodeError(ServerInternalError, "ServerInternalError")
)
