// pkg/errors/storage.go
package errors

// Storage error codes
const (
	// StorageErrConnection indicates a connection error
	StorageErrConnection = "STORAGE_CONNECTION"
	// StorageErrRead indicates a read error
	StorageErrRead = "STORAGE_READ"
	// StorageErrWrite indicates a write error
	StorageErrWrite = "STORAGE_WRITE"
	// StorageErrDelete indicates a delete error
	StorageErrDelete = "STORAGE_DELETE"
	// StorageErrNotFound indicates a resource was not found
	StorageErrNotFound = "STORAGE_NOT_FOUND"
	// StorageErrSerialization indicates a serialization error
	StorageErrSerialization = "STORAGE_SERIALIZATION"
	// StorageErrDeserialization indicates a deserialization error
	StorageErrDeserialization = "STORAGE_DESERIALIZATION"
)

// Storage domain name
const StorageDomain = "epochstore"

// Storage operations
const (
	OpConnect       = "Connect"
	OpInsertPending = "InsertPending"
	OpRemovePending = "RemovePending"
	OpPendingCount  = "PendingCount"
	OpAllPending    = "AllPending"
	OpReconfigRead  = "ReconfigRead"
	OpReconfigWrite = "ReconfigWrite"
	OpSerialize     = "Serialize"
	OpDeserialize   = "Deserialize"
)

// NewStorageError creates a new storage error
func NewStorageError(code string, message string, err error) error {
	return &Error{
		Domain:   StorageDomain,
		Code:     code,
		Message:  message,
		Original: err,
	}
}

// NewStorageOpError creates a new storage error for a specific operation
func NewStorageOpError(op string, code string, message string, err error) error {
	return &Error{
		Domain:    StorageDomain,
		Operation: op,
		Code:      code,
		Message:   message,
		Original:  err,
	}
}
