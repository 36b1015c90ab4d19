package model

import "errors"

// 引擎错误分类
var (
	ErrNoVariantAvailable       = errors.New("no variant available")
	ErrDuplicateVariant         = errors.New("duplicate variant")
	ErrInvalidExperimentConfig  = errors.New("invalid experiment config")
	ErrExperimentAlreadyRunning = errors.New("experiment already running")
	ErrInferenceFailure         = errors.New("inference failure")
	ErrScoringInconsistency     = errors.New("scoring inconsistency")

	ErrVariantNotFound    = errors.New("variant not found")
	ErrExperimentNotFound = errors.New("experiment not found")
	ErrExecutionNotFound  = errors.New("execution not found")
	ErrInvalidTransition  = errors.New("invalid experiment state transition")
	ErrInvalidVariant     = errors.New("invalid variant")
)
