package domain

import "errors"

var (
	// ErrNoActiveQuestion is returned when an answer is submitted with no question on screen.
	ErrNoActiveQuestion = errors.New("no active question")
	// ErrAlreadyAnswered guards the at-most-one-answer-per-question rule.
	ErrAlreadyAnswered = errors.New("question already answered")
	// ErrInvalidOption indicates a selected option outside the question's options.
	ErrInvalidOption = errors.New("option out of range")
	// ErrNoRevivalInProgress is returned for revival submissions outside the revival phase.
	ErrNoRevivalInProgress = errors.New("no revival in progress")
	// ErrNotRevivalCandidate forbids revival answers from users the server did not list.
	ErrNotRevivalCandidate = errors.New("user is not a revival candidate")
	// ErrNoSession is returned by operations that need a session id.
	ErrNoSession = errors.New("no session loaded")
	// ErrRequestFailed is wrapped by every request-path failure.
	ErrRequestFailed = errors.New("request failed")
)
