package pipeline

import (
	"fmt"

	"github.com/google/uuid"
)

// ChunkID derives the point id of chunk index of sourceID as a name-based
// UUIDv5 in the URL namespace over "<sourceID>:<index>". Ids are stable
// across processes and runtimes, so re-ingesting a document overwrites its
// previous points.
func ChunkID(sourceID string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s:%d", sourceID, index))).String()
}
