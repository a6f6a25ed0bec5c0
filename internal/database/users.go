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
	"strings"

	"github.com/davidopascual/coinlist/internal/catalog"
	"github.com/davidopascual/coinlist/internal/models"

	"go.uber.org/zap"
)

func (s *Service) GetUsers(ctx context.Context) ([]models.UserRecord, error) {
	zap.L().Debug("Querying users")

	rows, err := s.db.QueryContext(ctx, queryGetUsers)
	if err != nil {
		zap.L().Error("Failed to query users", zap.Error(err))
		return nil, fmt.Errorf("unable to query users: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var users []models.UserRecord
	for rows.Next() {
		var user models.UserRecord
		err := rows.Scan(&user.Id, &user.Wallet, &user.CreatedAt, &user.UpdatedAt)
		if err != nil {
			zap.L().Error("Failed to scan user row", zap.Error(err))
			return nil, fmt.Errorf("unable to scan user row: %w", err)
		}

		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		zap.L().Error("Error during user row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating user rows: %w", err)
	}

	return users, nil
}

func (s *Service) GetUserByWallet(ctx context.Context, wallet string) (*models.UserRecord, error) {
	wallet = strings.ToLower(wallet)
	zap.L().Debug("Querying user by wallet", zap.String("wallet", wallet))

	var user models.UserRecord
	err := s.db.QueryRowContext(ctx, queryGetUserByWallet, wallet).Scan(
		&user.Id, &user.Wallet, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", catalog.ErrUserNotFound, wallet)
		}
		zap.L().Error("Failed to query user by wallet", zap.String("wallet", wallet), zap.Error(err))
		return nil, fmt.Errorf("unable to query user by wallet: %w", err)
	}

	return &user, nil
}

func (s *Service) CreateUser(ctx context.Context, userId, wallet string) (*models.UserRecord, error) {
	wallet = strings.ToLower(wallet)
	zap.L().Info("Creating user", zap.String("id", userId), zap.String("wallet", wallet))

	if _, err := s.db.ExecContext(ctx, queryInsertUser, userId, wallet); err != nil {
		zap.L().Error("Failed to insert user", zap.String("wallet", wallet), zap.Error(err))
		return nil, fmt.Errorf("unable to insert user: %w", err)
	}

	return s.GetUserByWallet(ctx, wallet)
}
