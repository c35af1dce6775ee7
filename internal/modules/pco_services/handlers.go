package pco_services

import (
	"context"
	"net/url"

	"pcoservices/server/internal/modules"
	"pcoservices/server/pkg/pcoapi"
)

// =============================================================================
// Service Types
// =============================================================================

func getServiceTypes(ctx context.Context, c *pcoapi.Client, _ args) (string, error) {
	return get(ctx, c, "/services/v2/service_types", nil)
}

func createServiceType(ctx context.Context, c *pcoapi.Client, p args) (string, error) {
	body := pcoapi.NewEnvelope("ServiceType",
		pcoapi.Attr("name", p.str("name")),
		pcoapi.Attr("frequency", p.opt("frequency")),
		pcoapi.Attr("sequence", p.opt("sequence")),
	)
	return create(ctx, c, "/services/v2/service_types", body)
}

func updateServiceType(ctx context.Context, c *pcoapi.Client, p args) (string, error) {
	body := pcoapi.PatchBody("ServiceType",
		pcoapi.Attr("name", p.opt("name")),
		pcoapi.Attr("frequency", p.opt("frequency")),
		pcoapi.Attr("sequence", p.opt("sequence")),
	)
	return update(ctx, c, path("/services/v2/service_types/%s", p.str("service_type_id")), body)
}

func deleteServiceType(ctx context.Context, c *pcoapi.Client, p args) (string, error) {
	id := p.str("service_type_id")
	return remove(ctx, c, path("/services/v2/service_types/%s", id),
		"Service type "+id+" deleted successfully.")
}

// =============================================================================
// Plans
// =============================================================================

func getPlans(ctx context.Context, c *pcoapi.Client, p args) (string, error) {
	query := url.Values{"order": {"-updated_at"}}
	return get(ctx, c, path("/services/v2/service_types/%s/plans", p.str("service_type_id")), query)
}

func createPlan(ctx context.Context, c *pcoapi.Client, p args) (string, error) {
	body := pcoapi.NewEnvelope("Plan",
		pcoapi.Attr("title", p.opt("title")),
		pcoapi.Attr("public", p.opt("public")),
		pcoapi.Attr("series_title", p.opt("series_title")),
	)
	return create(ctx, c, path("/services/v2/service_types/%s/plans", p.str("service_type_id")), body)
}

func updatePlan(ctx context.Context, c *pcoapi.Client, p args) (string, error) {
	body := pcoapi.PatchBody("Plan",
		pcoapi.Attr("title", p.opt("title")),
		pcoapi.Attr("public", p.opt("public")),
		pcoapi.Attr("series_title", p.opt("series_title")),
	)
	return update(ctx, c, path("/services/v2/service_types/%s/plans/%s",
		p.str("service_type_id"), p.str("plan_id")), body)
}

func deletePlan(ctx context.Context, c *pcoapi.Client, p args) (string, error) {
	id := p.str("plan_id")
	return remove(ctx, c, path("/services/v2/service_types/%s/plans/%s", p.str("service_type_id"), id),
		"Plan "+id+" deleted successfully.")
}

// =============================================================================
// Plan Times
// =============================================================================

func planTimesPath(p args) string {
	return path("/services/v2/service_types/%s/plans/%s/plan_times", p.str("service_type_id"), p.str("plan_id"))
}

func getPlanTimes(ctx context.Context, c *pcoapi.Client, p args) (string, error) {
	return get(ctx, c, planTimesPath(p), nil)
}

func createPlanTime(ctx context.Context, c *pcoapi.Client, p args) (string, error) {
	body := pcoapi.NewEnvelope("PlanTime",
		pcoapi.Attr("starts_at", p.str("starts_at")),
		pcoapi.Attr("ends_at", p.str("ends_at")),
		pcoapi.Attr("time_type", p.opt("time_type")),
		pcoapi.Attr("name", p.opt("name")),
	)
	return create(ctx, c, planTimesPath(p), body)
}

func updatePlanTime(ctx context.Context, c *pcoapi.Client, p args) (string, error) {
	body := pcoapi.PatchBody("PlanTime",
		pcoapi.Attr("starts_at", p.opt("starts_at")),
		pcoapi.Attr("ends_at", p.opt("ends_at")),
		pcoapi.Attr("time_type", p.opt("time_type")),
		pcoapi.Attr("name", p.opt("name")),
	)
	return update(ctx, c, planTimesPath(p)+path("/%s", p.str("plan_time_id")), body)
}

func deletePlanTime(ctx context.Context, c *pcoapi.Client, p args) (string, error) {
	id := p.str("plan_time_id")
	return remove(ctx, c, planTimesPath(p)+path("/%s", id),
		"Plan time "+id+" deleted successfully.")
}

// =============================================================================
// Plan Items
// =============================================================================

func planItemsPath(p args) string {
	return path("/services/v2/service_types/%s/plans/%s/items", p.str("service_type_id"), p.str("plan_id"))
}

func getPlanItems(ctx context.Context, c *pcoapi.Client, p args) (string, error) {
	return get(ctx, c, path("/services/v2/plans/%s/items", p.str("plan_id")), nil)
}

func createPlanItem(ctx context.Context, c *pcoapi.Client, p args) (string, error) {
	body := pcoapi.NewEnvelope("Item",
		pcoapi.Attr("title", p.str("title")),
		pcoapi.Attr("item_type", p.str("item_type")),
		pcoapi.Attr("length", p.opt("length")),
		pcoapi.Attr("service_position", p.opt("service_position")),
		pcoapi.Attr("description", p.opt("description")),
		pcoapi.Attr("song_id", p.opt("song_id")),
		pcoapi.Attr("arrangement_id", p.opt("arrangement_id")),
		pcoapi.Attr("key_id", p.opt("key_id")),
	)
	return create(ctx, c, planItemsPath(p), body)
}

func updatePlanItem(ctx context.Context, c *pcoapi.Client, p args) (string, error) {
	body := pcoapi.PatchBody("Item",
		pcoapi.Attr("title", p.opt("title")),
		pcoapi.Attr("length", p.opt("length")),
		pcoapi.Attr("service_position", p.opt("service_position")),
		pcoapi.Attr("description", p.opt("description")),
		pcoapi.Attr("sequence", p.opt("sequence")),
	)
	return update(ctx, c, planItemsPath(p)+path("/%s", p.str("item_id")), body)
}

func deletePlanItem(ctx context.Context, c *pcoapi.Client, p args) (string, error) {
	id := p.str("item_id")
	return remove(ctx, c, planItemsPath(p)+path("/%s", id),
		"Plan item "+id+" deleted successfully.")
}

// reorderPlanItems replaces the item order of a plan; item_ids is the full
// target order.
func reorderPlanItems(ctx context.Context, c *pcoapi.Client, p args) (string, error) {
	body := pcoapi.NewEnvelope("ItemReorder",
		pcoapi.Attr("sequence", p.strings("item_ids")),
	)
	target := path("/services/v2/service_types/%s/plans/%s/item_reorder", p.str("service_type_id"), p.str("plan_id"))
	if err := c.Action(ctx, target, body); err != nil {
		return "", err
	}
	return modules.Confirmation("Plan items reordered successfully."), nil
}

// =============================================================================
// Team Members
// =============================================================================

func teamMembersPath(p args) string {
	return path("/services/v2/service_types/%s/plans/%s/team_members", p.str("service_type_id"), p.str("plan_id"))
}

func getPlanTeamMembers(ctx context.Context, c *pcoapi.Client, p args) (string, error) {
	return get(ctx, c, path("/services/v2/plans/%s/team_members", p.str("plan_id")), nil)
}

func assignTeamMember(ctx context.Context, c *pcoapi.Client, p args) (string, error) {
	body := pcoapi.NewEnvelope("PlanPerson",
		pcoapi.Attr("team_position_name", p.opt("team_position_name")),
		pcoapi.Attr("status", p.opt("status")),
		pcoapi.Attr("prepare_notification", p.opt("prepare_notification")),
	).RelateOne("person", pcoapi.Identifier{Type: "Person", ID: p.str("person_id")})
	return create(ctx, c, teamMembersPath(p), body)
}

func updateTeamMember(ctx context.Context, c *pcoapi.Client, p args) (string, error) {
	body := pcoapi.PatchBody("PlanPerson",
		pcoapi.Attr("status", p.opt("status")),
		pcoapi.Attr("notes", p.opt("notes")),
		pcoapi.Attr("team_position_name", p.opt("team_position_name")),
	)
	return update(ctx, c, teamMembersPath(p)+path("/%s", p.str("team_member_id")), body)
}

func removeTeamMember(ctx context.Context, c *pcoapi.Client, p args) (string, error) {
	id := p.str("team_member_id")
	return remove(ctx, c, teamMembersPath(p)+path("/%s", id),
		"Team member "+id+" removed successfully.")
}

// =============================================================================
// Schedules
// =============================================================================

func schedulePath(p args, action string) string {
	return path("/services/v2/people/%s/schedules/%s/", p.str("person_id"), p.str("schedule_id")) + action
}

func getPersonSchedules(ctx context.Context, c *pcoapi.Client, p args) (string, error) {
	return get(ctx, c, path("/services/v2/people/%s/schedules", p.str("person_id")), nil)
}

func acceptSchedule(ctx context.Context, c *pcoapi.Client, p args) (string, error) {
	if err := c.Action(ctx, schedulePath(p, "accept"), pcoapi.EmptyBody); err != nil {
		return "", err
	}
	return modules.Confirmation("Schedule " + p.str("schedule_id") + " accepted successfully."), nil
}

// declineSchedule posts {} without a reason and {"data":{"attributes":{"reason":...}}}
// with one. The reason body carries no type member.
func declineSchedule(ctx context.Context, c *pcoapi.Client, p args) (string, error) {
	body := pcoapi.EmptyBody
	if reason, ok := p["reason"]; ok {
		body = pcoapi.NewEnvelope("", pcoapi.Attr("reason", reason))
	}
	if err := c.Action(ctx, schedulePath(p, "decline"), body); err != nil {
		return "", err
	}
	return modules.Confirmation("Schedule " + p.str("schedule_id") + " declined successfully."), nil
}

// =============================================================================
// Songs
// =============================================================================

// visibleSongs is the base query of every song listing.
func visibleSongs() url.Values {
	return url.Values{"where[hidden]": {"false"}}
}

func getSongs(ctx context.Context, c *pcoapi.Client, _ args) (string, error) {
	query := visibleSongs()
	query.Set("per_page", "200")
	return get(ctx, c, "/services/v2/songs", query)
}

func getSong(ctx context.Context, c *pcoapi.Client, p args) (string, error) {
	return get(ctx, c, path("/services/v2/songs/%s", p.str("song_id")), nil)
}

func findSongByTitle(ctx context.Context, c *pcoapi.Client, p args) (string, error) {
	query := visibleSongs()
	query.Set("where[title]", p.str("title"))
	return get(ctx, c, "/services/v2/songs", query)
}

func createSong(ctx context.Context, c *pcoapi.Client, p args) (string, error) {
	var ccli any
	if s := p.str("ccli"); s != "" {
		ccli = s
	}
	body := pcoapi.NewEnvelope("Song",
		pcoapi.Attr("title", p.str("title")),
		pcoapi.Attr("ccli_number", ccli),
	)
	return create(ctx, c, "/services/v2/songs", body)
}

func getAllArrangementsForSong(ctx context.Context, c *pcoapi.Client, p args) (string, error) {
	return get(ctx, c, path("/services/v2/songs/%s/arrangements", p.str("song_id")), nil)
}

func getArrangementForSong(ctx context.Context, c *pcoapi.Client, p args) (string, error) {
	return get(ctx, c, path("/services/v2/songs/%s/arrangements/%s", p.str("song_id"), p.str("arrangement_id")), nil)
}

func getKeysForArrangementOfSong(ctx context.Context, c *pcoapi.Client, p args) (string, error) {
	return get(ctx, c, path("/services/v2/songs/%s/arrangements/%s/keys", p.str("song_id"), p.str("arrangement_id")), nil)
}
