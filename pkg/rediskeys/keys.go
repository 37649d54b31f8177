package rediskeys

import (
	"fmt"
)

// TokenKey is the Redis key holding the access token of a client profile.
func TokenKey(profile string) string {
	return fmt.Sprintf("edumate:auth:token:%s", profile)
}

// AuthEventsChannel is the pub/sub channel on which login/logout of a profile is announced.
func AuthEventsChannel(profile string) string {
	return fmt.Sprintf("edumate:auth:events:%s", profile)
}
