package main

import (
	"fmt"
	"os"

	"github.com/driventa/quotation-service/internal/auth"
	"github.com/driventa/quotation-service/internal/config"
	"github.com/driventa/quotation-service/internal/db"
	"github.com/driventa/quotation-service/internal/excel"
	httphandler "github.com/driventa/quotation-service/internal/http"
	"github.com/driventa/quotation-service/internal/http/middleware"
	"github.com/driventa/quotation-service/internal/logger"
	"github.com/driventa/quotation-service/internal/pdf"
	"github.com/driventa/quotation-service/internal/repository"
	"github.com/driventa/quotation-service/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Environment)

	database, err := db.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect database")
	}

	quotationRepo := repository.NewQuotationRepository(database)
	activityRepo := repository.NewActivityRepository(database)
	magicLinkRepo := repository.NewMagicLinkRepository(database)

	pdfGenerator, err := pdf.NewGenerator()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init pdf generator")
	}
	auditGenerator := excel.NewGenerator()

	mailer := service.LogMailer{Log: log}
	bookings := noopBookingCreator{}

	quotationService := service.NewQuotationService(
		quotationRepo, activityRepo, pdfGenerator, mailer, bookings, cfg, log)
	magicLinkService := service.NewMagicLinkService(
		quotationRepo, magicLinkRepo, activityRepo, cfg, log)

	tokenParser := auth.NewParser(cfg.Auth.AccessSecret)
	handler := httphandler.NewHandler(quotationService, magicLinkService, auditGenerator, log)
	authMiddleware := middleware.Auth(tokenParser)
	router := httphandler.NewRouter(handler, authMiddleware, cfg.Environment)

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	log.Info().Str("addr", addr).Msg("starting quotation service")

	if err := router.Run(addr); err != nil {
		log.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
}
