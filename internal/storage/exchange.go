package storage

import "errors"

var errExchangeUnsupported = errors.New("atomic directory exchange not supported")
