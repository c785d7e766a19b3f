package memory

import "errors"

var errDuplicateKey = errors.New("memory: duplicate conversation key")
