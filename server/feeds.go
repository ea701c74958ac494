package server

import (
	"net/url"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/jmgilman/go/errors"
	log "github.com/sirupsen/logrus"

	"github.com/MShaffar19/transitland-datastore/feeds"
	"github.com/MShaffar19/transitland-datastore/models"
)

const noRedistributableVersion = "Either no feed versions are available for this feed or their license prevents redistribution"

type handlers struct {
	store     FeedStore
	fetchInfo FetchInfo
}

func (h *handlers) index(c *fiber.Ctx) error {
	values, err := url.ParseQuery(string(c.Request().URI().QueryString()))
	if err != nil {
		return errors.Wrap(err, errors.CodeInvalidInput, "malformed query string")
	}

	q, err := feeds.ParseIndexQuery(values)
	if err != nil {
		return err
	}

	rows, err := h.store.ListFeeds(c.UserContext(), q)
	if err != nil {
		return err
	}

	return c.JSON(feeds.Page(rows, q, c.BaseURL()+c.Path(), values))
}

func (h *handlers) fetchInfoHandler(c *fiber.Ctx) error {
	// the task outlives the request, so the url must not alias fiber's buffer
	record, status, err := h.fetchInfo.GetOrEnqueue(c.UserContext(), utils.CopyString(c.Query("url")))
	if err != nil {
		return err
	}
	return c.Status(status).JSON(record)
}

func (h *handlers) dmfr(c *fiber.Ctx) error {
	all, err := h.store.AllFeeds(c.UserContext())
	if err != nil {
		return err
	}

	ids := make([]int64, len(all))
	for i, f := range all {
		ids[i] = f.Id
	}
	links, err := h.store.OperatorsInFeeds(c.UserContext(), ids)
	if err != nil {
		return err
	}

	return c.JSON(feeds.BuildDMFR(all, links))
}

func (h *handlers) show(c *fiber.Ctx) error {
	feed, err := h.store.GetFeed(c.UserContext(), c.Params("onestop_id"))
	if err != nil {
		return err
	}
	return c.JSON(feed)
}

func (h *handlers) downloadLatestFeedVersion(c *fiber.Ctx) error {
	feed, err := h.store.GetFeed(c.UserContext(), c.Params("onestop_id"))
	if err != nil {
		return err
	}

	versions, err := h.store.FeedVersions(c.UserContext(), feed.Id)
	if err != nil {
		return err
	}
	if len(versions) == 0 || versions[0].DownloadUrl == "" {
		return errors.WithContext(errors.New(errors.CodeNotFound, noRedistributableVersion),
			"onestop_id", feed.OnestopId)
	}

	return c.Redirect(versions[0].DownloadUrl, fiber.StatusFound)
}

func (h *handlers) feedVersionUpdateStatistics(c *fiber.Ctx) error {
	feed, err := h.store.GetFeed(c.UserContext(), c.Params("onestop_id"))
	if err != nil {
		return err
	}

	versions, err := h.store.FeedVersions(c.UserContext(), feed.Id)
	if err != nil {
		return err
	}

	return c.JSON(feeds.UpdateStatistics(*feed, versions))
}

func (h *handlers) create(c *fiber.Ctx) error {
	var feed models.Feed
	if err := c.BodyParser(&feed); err != nil {
		return errors.Wrap(err, errors.CodeInvalidInput, "malformed feed")
	}

	if err := h.store.CreateFeed(c.UserContext(), &feed); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"onestop_id": feed.OnestopId,
	}).Info("Feed created via API")
	return c.Status(fiber.StatusCreated).JSON(feed)
}

func (h *handlers) update(c *fiber.Ctx) error {
	var feed models.Feed
	if err := c.BodyParser(&feed); err != nil {
		return errors.Wrap(err, errors.CodeInvalidInput, "malformed feed")
	}

	if err := h.store.UpdateFeed(c.UserContext(), c.Params("onestop_id"), &feed); err != nil {
		return err
	}
	return c.JSON(feed)
}

func (h *handlers) destroy(c *fiber.Ctx) error {
	if err := h.store.DeleteFeed(c.UserContext(), c.Params("onestop_id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
