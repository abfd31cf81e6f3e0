package store

import (
	"fmt"
	"sort"
	"sync"

	"draftflow/pkg/models"
)

// GetMessages reconstructs the full chat history: one fetch per type
// partition, run in parallel and keyed by chat rather than message to keep
// the scan count fixed, then grouped per message, sorted by part ID and
// merged into chronological message order. The result is a pure function
// of what has been persisted; repeated calls with no intervening writes
// return identical output.
func GetMessages(chatID string) ([]models.Message, error) {
	envelopes, err := listEnvelopes(chatID)
	if err != nil {
		return nil, err
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		fetched = make([]models.Part, 0)
		fetchEr error
	)
	for _, t := range models.PartTypes {
		wg.Add(1)
		go func(t models.PartType) {
			defer wg.Done()
			parts, err := ListParts(chatID, t)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if fetchEr == nil {
					fetchEr = err
				}
				return
			}
			fetched = append(fetched, parts...)
		}(t)
	}
	wg.Wait()
	if fetchEr != nil {
		return nil, fetchEr
	}

	byMessage := make(map[string][]models.Part, len(envelopes))
	for _, p := range fetched {
		byMessage[p.Message] = append(byMessage[p.Message], p)
	}

	out := make([]models.Message, 0, len(envelopes))
	for _, m := range envelopes {
		parts := byMessage[m.ID]
		sort.Slice(parts, func(i, j int) bool { return parts[i].ID < parts[j].ID })
		m.Parts = parts
		out = append(out, m)
		delete(byMessage, m.ID)
	}
	// A part row pointing at a message that does not exist is a programmer
	// error upstream; surface it instead of silently dropping content.
	if len(byMessage) > 0 {
		for msgID := range byMessage {
			return nil, fmt.Errorf("part rows reference missing message %s in chat %s", msgID, chatID)
		}
	}
	AssembledReads.Inc()
	return out, nil
}
