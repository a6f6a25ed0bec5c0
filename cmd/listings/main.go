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

package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/davidopascual/coinlist/internal/catalog"
	"github.com/davidopascual/coinlist/internal/common"
	"github.com/davidopascual/coinlist/internal/config"
	"github.com/davidopascual/coinlist/internal/database"
	"github.com/davidopascual/coinlist/internal/identity"
	"github.com/davidopascual/coinlist/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	create := flag.Bool("create", false, "Create a new listing instead of listing existing ones")
	users := flag.Bool("users", false, "Show registered users instead of listings")
	onlyOpen := flag.Bool("open", false, "Show only unsold listings")
	seller := flag.String("seller", "", "Seller wallet address (required with -create, filters when browsing)")
	title := flag.String("title", "", "Listing title (required with -create)")
	description := flag.String("description", "", "Listing description")
	price := flag.String("price", "", "Listing price in display units (required with -create)")
	asset := flag.String("asset", "0x0000000000000000000000000000000000000000", "Payment asset address (zero address for native)")
	flag.Parse()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx := context.Background()
	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	if *create {
		createListing(ctx, dbService, *seller, *title, *description, *price, *asset)
		return
	}

	if *users {
		printUsers(ctx, dbService)
		return
	}

	var listings []models.Listing
	if *seller != "" {
		listings, err = dbService.GetListingsBySeller(ctx, *seller)
		if err == nil && *onlyOpen {
			open := listings[:0]
			for _, listing := range listings {
				if !listing.IsSold {
					open = append(open, listing)
				}
			}
			listings = open
		}
	} else {
		listings, err = dbService.GetListings(ctx, *onlyOpen)
	}
	if err != nil {
		zap.L().Fatal("Failed to query listings", zap.Error(err))
	}

	scope := "All"
	if *onlyOpen {
		scope = "Open"
	}
	header := fmt.Sprintf("%s listings (%d)", scope, len(listings))
	if *seller != "" {
		header = fmt.Sprintf("%s listings by %s (%d)", scope, *seller, len(listings))
	}
	common.PrintHeader(header, common.DefaultWidth)
	for i, listing := range listings {
		printListing(listing, i == len(listings)-1)
	}
}

func printUsers(ctx context.Context, dbService *database.Service) {
	records, err := dbService.GetUsers(ctx)
	if err != nil {
		zap.L().Fatal("Failed to query users", zap.Error(err))
	}
	common.PrintHeader(fmt.Sprintf("Registered users (%d)", len(records)), common.DefaultWidth)
	for i, record := range records {
		fmt.Printf("%s %-36s %s\n", common.BoxPrefix(i == len(records)-1), record.Id, record.Wallet)
	}
}

func createListing(ctx context.Context, dbService *database.Service, seller, title, description, price, asset string) {
	if seller == "" || title == "" || price == "" {
		zap.L().Fatal("Creating a listing requires -seller, -title and -price")
	}
	parsedPrice, err := decimal.NewFromString(price)
	if err != nil {
		zap.L().Fatal("Invalid price", zap.String("price", price), zap.Error(err))
	}

	if _, err := identity.NewService(dbService).ResolveOrCreateUser(ctx, seller); err != nil {
		zap.L().Fatal("Failed to resolve seller", zap.Error(err))
	}

	listing, err := dbService.CreateListing(ctx, catalog.CreateListingParams{
		SellerWallet: seller,
		Title:        title,
		Description:  description,
		Price:        parsedPrice,
		Asset:        asset,
	})
	if err != nil {
		zap.L().Fatal("Failed to create listing", zap.Error(err))
	}

	common.PrintFooter(fmt.Sprintf("Listing %s created: %s @ %s", listing.Id, listing.Title, listing.Price.String()), common.DefaultWidth)
}

func printListing(listing models.Listing, isLast bool) {
	status := "open"
	if listing.IsSold {
		status = "sold (" + listing.SettlementStatus + ")"
	}
	fmt.Printf("%s %-36s %-28s %12s  %s\n",
		common.BoxPrefix(isLast),
		listing.Id,
		truncate(listing.Title, 28),
		listing.Price.String(),
		status)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
