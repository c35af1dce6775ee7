package pco_services

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"pcoservices/server/internal/modules"
	"pcoservices/server/pkg/pcoapi"
)

const tagType = "Tag"

// songTags fetches the song tag groups with their tags included.
func songTags(ctx context.Context, c *pcoapi.Client) ([]pcoapi.Object, error) {
	doc, err := c.Fetch(ctx, "/services/v2/tag_groups", url.Values{
		"include": {"tags"},
		"filter":  {"song"},
	})
	if err != nil {
		return nil, err
	}
	return doc.Included, nil
}

// matchTags resolves each name to the id of the first included tag whose name
// matches case-insensitively. Names without a match are dropped.
func matchTags(included []pcoapi.Object, names []string) []string {
	ids := make([]string, 0, len(names))
	for _, name := range names {
		for _, tag := range included {
			if tag.Type != tagType {
				continue
			}
			if tagName, ok := tag.StringAttr("name"); ok && strings.EqualFold(tagName, name) {
				ids = append(ids, tag.ID)
				break
			}
		}
	}
	return ids
}

func assignTagsToSong(ctx context.Context, c *pcoapi.Client, p args) (string, error) {
	included, err := songTags(ctx, c)
	if err != nil {
		return "", err
	}
	ids := matchTags(included, p.strings("tag_names"))
	if len(ids) == 0 {
		return modules.StatusJSON(false, "No matching tags found"), nil
	}

	tags := make([]pcoapi.Identifier, len(ids))
	for i, id := range ids {
		tags[i] = pcoapi.Identifier{Type: tagType, ID: id}
	}
	songID := p.str("song_id")
	body := pcoapi.NewEnvelope("TagAssignment").RelateMany("tags", tags)
	if err := c.Action(ctx, path("/services/v2/songs/%s/assign_tags", songID), body); err != nil {
		return "", err
	}
	return modules.Confirmation(fmt.Sprintf("Successfully assigned %d tag(s) to song %s", len(ids), songID)), nil
}

// findSongsByTags returns the visible songs carrying every matched tag. When
// no name matches, the song query is skipped and the result is empty.
func findSongsByTags(ctx context.Context, c *pcoapi.Client, p args) (string, error) {
	included, err := songTags(ctx, c)
	if err != nil {
		return "", err
	}
	ids := matchTags(included, p.strings("tag_names"))
	if len(ids) == 0 {
		return "[]", nil
	}

	query := visibleSongs()
	query.Set("per_page", "200")
	query["where[song_tag_ids]"] = ids
	return get(ctx, c, "/services/v2/songs", query)
}
