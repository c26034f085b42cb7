package app

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/LeonardoBeccarini/agribot_dashboard/internal/artifact"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/catalog"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/configstore"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/model"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/normalize"
)

func (a *App) normalizer() normalize.Normalizer {
	cat := a.cfg.Catalog.Current()
	return normalize.Normalizer{Plants: cat, Models: cat, Now: a.now}
}

func (a *App) configResponse() configResponse {
	return configResponse{Config: a.cfg.Store.CurrentConfig(), Dirty: a.cfg.Store.IsDirty()}
}

func (a *App) handleGetConfig(c echo.Context) error {
	return c.JSON(http.StatusOK, a.configResponse())
}

// PUT /api/config replaces the working configuration with the normalized body.
func (a *App) handlePutConfig(c echo.Context) error {
	done, err := a.beginWrite()
	if err != nil {
		return failFor(c, err)
	}
	defer done()

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return fail(c, http.StatusBadRequest, err)
	}
	cfg, err := a.normalizer().NormalizeJSON(body)
	if err != nil {
		return failFor(c, err)
	}
	a.cfg.Store.ApplyConfig(configstore.CandidateFrom(cfg))
	return c.JSON(http.StatusOK, a.configResponse())
}

func (a *App) handleSaveConfig(c echo.Context) error {
	ctx, cancel := a.requestContext(c)
	defer cancel()

	res, err := a.Save(ctx)
	if err != nil {
		return failFor(c, err)
	}
	out := saveResponse{Success: true, RobotUpdated: res.RobotUpdated, Persisted: res.Persisted}
	if !res.RobotUpdated {
		out.Message = "Configuration saved to cloud, but robot not updated."
	}
	return c.JSON(http.StatusOK, out)
}

func (a *App) handleRevertConfig(c echo.Context) error {
	done, err := a.beginWrite()
	if err != nil {
		return failFor(c, err)
	}
	defer done()

	a.cfg.Store.RevertConfig()
	return c.JSON(http.StatusOK, a.configResponse())
}

func (a *App) handleDownloadConfig(c echo.Context) error {
	var buf bytes.Buffer
	if err := a.cfg.Store.DownloadConfig(&buf); err != nil {
		return fail(c, http.StatusInternalServerError, err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		mime.FormatMediaType("attachment", map[string]string{"filename": configstore.DownloadFilename}))
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, buf.Bytes())
}

// POST /api/config/artifact renders the working configuration into a PNG that
// carries it.
func (a *App) handleArtifact(c echo.Context) error {
	png, err := artifact.Build(a.cfg.Store.CurrentConfig(), a.now())
	a.obs.ArtifactEncoded(err)
	if err != nil {
		return fail(c, http.StatusInternalServerError, err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		mime.FormatMediaType("attachment", map[string]string{"filename": artifact.Filename}))
	return c.Blob(http.StatusOK, "image/png", png)
}

// POST /api/config/upload applies the configuration embedded in a PNG, sent as
// the raw body or as the multipart field "file".
func (a *App) handleUpload(c echo.Context) error {
	done, err := a.beginLiveWrite()
	if err != nil {
		return failFor(c, err)
	}
	defer done()

	img, err := uploadedBytes(c)
	if err != nil {
		return fail(c, http.StatusBadRequest, err)
	}
	payload, err := artifact.DecodeConfig(img)
	a.obs.ArtifactDecoded(err == nil, err)
	if err != nil {
		return failFor(c, err)
	}
	cfg, err := a.normalizer().Normalize(payload)
	if err != nil {
		return failFor(c, err)
	}
	a.cfg.Store.ApplyConfig(configstore.CandidateFrom(cfg))
	a.log.Info("configuration loaded from image", "plants", len(cfg.DetectedPlants))
	return c.JSON(http.StatusOK, a.configResponse())
}

func uploadedBytes(c echo.Context) ([]byte, error) {
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		fh, err := c.FormFile("file")
		if err != nil {
			return nil, err
		}
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return io.ReadAll(f)
	}
	b, err := io.ReadAll(c.Request().Body)
	if err == nil && len(b) == 0 {
		err = fmt.Errorf("empty upload")
	}
	return b, err
}

// GET /api/plants?search= filters the detected plants by registry name.
func (a *App) handleListPlants(c echo.Context) error {
	plants := configstore.FilterDetectedPlants(a.cfg.Store.DetectedPlants(), a.cfg.Catalog.Current(), c.QueryParam("search"))
	return c.JSON(http.StatusOK, plants)
}

func (a *App) handleDisablePlant(c echo.Context) error {
	done, err := a.beginLiveWrite()
	if err != nil {
		return failFor(c, err)
	}
	defer done()

	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return fail(c, http.StatusBadRequest, fmt.Errorf("bad plant index %q", c.Param("index")))
	}
	if !a.cfg.Store.DisablePlant(index) {
		return fail(c, http.StatusNotFound, fmt.Errorf("no plant at index %d", index))
	}
	return c.JSON(http.StatusOK, a.cfg.Store.DetectedPlants())
}

// DELETE /api/plants/:key?sid= asks the robot to drop the stored result and
// removes the plant locally whatever the robot answers.
func (a *App) handleRemovePlant(c echo.Context) error {
	done, err := a.beginLiveWrite()
	if err != nil {
		return failFor(c, err)
	}
	defer done()

	key := c.Param("key")
	if a.cfg.Robot != nil {
		ctx, cancel := a.requestContext(c)
		if err := a.cfg.Robot.RemoveResult(ctx, key, c.QueryParam("sid")); err != nil {
			a.log.Warn("robot did not remove result", "key", key, "error", err)
		}
		cancel()
	}
	if a.cfg.Store.RemovePlant(key) == 0 {
		return fail(c, http.StatusNotFound, fmt.Errorf("no plant %q", key))
	}
	return c.JSON(http.StatusOK, a.cfg.Store.DetectedPlants())
}

func (a *App) handleCatalog(c echo.Context) error {
	return c.JSON(http.StatusOK, catalogView(a.cfg.Catalog.Current()))
}

func (a *App) handleCatalogRefresh(c echo.Context) error {
	ctx, cancel := a.requestContext(c)
	defer cancel()
	cat, err := a.cfg.Catalog.Refresh(ctx, true)
	if err != nil {
		return failFor(c, err)
	}
	return c.JSON(http.StatusOK, catalogView(cat))
}

func catalogView(cat *catalog.Catalog) catalogResponse {
	out := catalogResponse{Plants: cat.Plants(), Models: map[model.ModelKind][]model.DetectionModel{}}
	for _, k := range []model.ModelKind{model.ObjectDetection, model.StageClassification, model.DiseaseSegmentation} {
		list := cat.Models(k)
		if list == nil {
			list = []model.DetectionModel{}
		}
		out.Models[k] = list
	}
	return out
}
