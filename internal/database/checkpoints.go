/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetCheckpoint returns the persisted cursor for name, or zero when no
// checkpoint exists yet. Zero means replay from the beginning; downstream
// writes are idempotent so over-replay converges.
func (s *Service) GetCheckpoint(ctx context.Context, name string) (uint64, error) {
	var seq uint64
	err := s.db.QueryRowContext(ctx, queryGetCheckpoint, name).Scan(&seq)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("unable to query checkpoint %s: %w", name, err)
	}
	return seq, nil
}

func (s *Service) SetCheckpoint(ctx context.Context, name string, seq uint64) error {
	if _, err := s.db.ExecContext(ctx, queryUpsertCheckpoint, name, seq); err != nil {
		return fmt.Errorf("unable to persist checkpoint %s: %w", name, err)
	}
	return nil
}
