// internal/service/inventory/infrastructure/mysql.go
package infrastructure

import (
	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// OpenMySQL 建立数据库连接并迁移引擎自己的表。
// product_variant 属于商品域，这里只做兼容性迁移以便单机起整套环境。
func OpenMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "open mysql")
	}
	if err := db.AutoMigrate(&VariantModel{}, &UnitModel{}, &AuditModel{}); err != nil {
		return nil, errors.Wrap(err, "auto migrate stock tables")
	}
	return db, nil
}
