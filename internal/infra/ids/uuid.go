// Package ids は注文・決済・イベントのID採番。
package ids

import "github.com/google/uuid"

// UUID は v4 の UUID を返す IDGenerator
type UUID struct{}

func (UUID) NewID() string {
	return uuid.NewString()
}
