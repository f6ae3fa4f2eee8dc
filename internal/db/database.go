package db

import (
	"os"
	"path/filepath"

	"github.com/embernetwork/ember-wallet/internal/config"
	"github.com/embernetwork/ember-wallet/internal/db/migrations"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type DatabaseManager struct {
	walletDb *gorm.DB
	outputDb *gorm.DB
}

func NewDatabaseManager() *DatabaseManager {
	dm := &DatabaseManager{}
	dm.initDB()
	return dm
}

func (dm *DatabaseManager) initDB() {
	dbDir := config.AppConfig.DbDir
	if err := os.MkdirAll(dbDir, os.ModePerm); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	walletPath := filepath.Join(dbDir, "wallet.db")
	walletDb, err := gorm.Open(sqlite.Open(walletPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		log.Fatalf("Failed to connect to wallet database: %v", err)
	}
	dm.walletDb = walletDb
	log.Debugf("Wallet database connected successfully, path: %s", walletPath)

	outputPath := filepath.Join(dbDir, "output.db")
	outputDb, err := gorm.Open(sqlite.Open(outputPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		log.Fatalf("Failed to connect to output database: %v", err)
	}
	dm.outputDb = outputDb
	log.Debugf("Output database connected successfully, path: %s", outputPath)

	dm.autoMigrate()
	dm.runMigrations()
	log.Debugf("Database migration completed successfully")
}

// runMigrations applies the versioned migrations AutoMigrate cannot express.
func (dm *DatabaseManager) runMigrations() {
	walletMigrations := migrations.NewMigrationManager(dm.walletDb)
	if err := walletMigrations.EnsureMigrationTable(); err != nil {
		log.Fatalf("Failed to ensure wallet migrations table: %v", err)
	}
	if err := walletMigrations.RunMigration("20250612_add_transaction_sweep_index", migrations.AddTransactionSweepIndex); err != nil {
		log.Fatalf("Failed to run wallet migration: %v", err)
	}

	outputMigrations := migrations.NewMigrationManager(dm.outputDb)
	if err := outputMigrations.EnsureMigrationTable(); err != nil {
		log.Fatalf("Failed to ensure output migrations table: %v", err)
	}
	if err := outputMigrations.RunMigration("20250612_add_utxo_spendable_index", migrations.AddUtxoSpendableIndex); err != nil {
		log.Fatalf("Failed to run output migration: %v", err)
	}
}

func (dm *DatabaseManager) GetWalletDB() *gorm.DB {
	return dm.walletDb
}

func (dm *DatabaseManager) GetOutputDB() *gorm.DB {
	return dm.outputDb
}
