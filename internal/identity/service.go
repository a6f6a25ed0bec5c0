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

package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/davidopascual/coinlist/internal/catalog"
	"github.com/davidopascual/coinlist/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service maps wallet addresses to catalog user records. Wallets are the
// only identity the ledger knows; the catalog keys everything else off the
// stable user id created here.
type Service struct {
	store catalog.Store
}

func NewService(store catalog.Store) *Service {
	return &Service{store: store}
}

// ResolveOrCreateUser returns the user record for wallet, creating one on
// first sight.
func (s *Service) ResolveOrCreateUser(ctx context.Context, wallet string) (*models.UserRecord, error) {
	user, err := s.store.GetUserByWallet(ctx, wallet)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, catalog.ErrUserNotFound) {
		return nil, fmt.Errorf("resolving user for %s: %w", wallet, err)
	}

	user, err = s.store.CreateUser(ctx, uuid.New().String(), wallet)
	if err != nil {
		return nil, fmt.Errorf("creating user for %s: %w", wallet, err)
	}

	zap.L().Info("User created for wallet",
		zap.String("user_id", user.Id),
		zap.String("wallet", user.Wallet))
	return user, nil
}
