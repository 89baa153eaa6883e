package streams

import "context"

// extractFullTable fetches the entire collection in a single request.
func extractFullTable(ctx context.Context, session Session, def Definition, deliver sink) error {
	data, err := session.Get(ctx, def.Path)
	if err != nil {
		return err
	}
	if data == nil {
		return nil
	}

	for _, rec := range recordsFromPayload(data, def.DataKey) {
		if err := deliver(rec); err != nil {
			return err
		}
	}
	return nil
}
