package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ProctorSessionKey returns the ephemeral-store key for one proctor session.
func (r *CacheKeyStruct) ProctorSessionKey(examID, attemptID string) string {
	return fmt.Sprintf("proctor:exam:%s:attempt:%s", examID, attemptID)
}

// ProctorSessionPrefix returns the key prefix the reaper enumerates.
func (r *CacheKeyStruct) ProctorSessionPrefix() string {
	return "proctor:exam:"
}

// UserSessionKey returns the cache key for a portal user's login session.
func (r *CacheKeyStruct) UserSessionKey(userID int) string {
	return fmt.Sprintf("login:%d", userID)
}

var CacheKey = NewCacheKeyStruct()
