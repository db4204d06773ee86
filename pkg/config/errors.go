package config

import "errors"

var (
	errMissingStorageRoot = errors.New("config: storageRoot is required")
	errMissingInstanceID  = errors.New("config: instanceId is required")
)
