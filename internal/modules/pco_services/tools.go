package pco_services

import (
	"pcoservices/server/internal/modules"
)

// Shared parameter descriptions
var (
	propServiceTypeID = modules.Property{Type: "string", Description: "The ID of the service type."}
	propPlanID        = modules.Property{Type: "string", Description: "The ID of the plan."}
	propPersonID      = modules.Property{Type: "string", Description: "The ID of the person."}
	propSongID        = modules.Property{Type: "string", Description: "The ID of the song."}
	propArrangementID = modules.Property{Type: "string", Description: "The ID of the arrangement within a song."}
	propStatus        = modules.Property{
		Type:        "string",
		Description: `Status: "C" (confirmed), "U" (unconfirmed) or "D" (declined).`,
		Enum:        []string{"C", "U", "D"},
	}
	propTagNames = modules.Property{
		Type:        "array",
		Description: "Tag names, matched case-insensitively against the song tag groups.",
		Items:       &modules.Property{Type: "string"},
	}
)

var noParams = modules.InputSchema{Type: "object", Properties: map[string]modules.Property{}}

// =============================================================================
// Tool Definitions
// =============================================================================

var toolDefinitions = []modules.Tool{
	// Service Types
	{
		ID:          "pco_services:get_service_types",
		Name:        "get_service_types",
		Description: "Fetch a list of service types from Planning Center Online.",
		Annotations: modules.AnnotateReadOnly,
		InputSchema: noParams,
	},
	{
		ID:          "pco_services:create_service_type",
		Name:        "create_service_type",
		Description: "Create a new service type in Planning Center Online.",
		Annotations: modules.AnnotateCreate,
		InputSchema: modules.InputSchema{
			Type: "object",
			Properties: map[string]modules.Property{
				"name":      {Type: "string", Description: `The name of the service type (e.g., "Sunday Morning").`},
				"frequency": {Type: "string", Description: `How often this service occurs (e.g., "every 1 week").`},
				"sequence":  {Type: "integer", Description: "The order in which this service type appears."},
			},
			Required: []string{"name"},
		},
	},
	{
		ID:          "pco_services:update_service_type",
		Name:        "update_service_type",
		Description: "Update an existing service type in Planning Center Online. Only the given fields change.",
		Annotations: modules.AnnotateUpdate,
		InputSchema: modules.InputSchema{
			Type: "object",
			Properties: map[string]modules.Property{
				"service_type_id": propServiceTypeID,
				"name":            {Type: "string", Description: "The new name for the service type."},
				"frequency":       {Type: "string", Description: "The new frequency for the service type."},
				"sequence":        {Type: "integer", Description: "The new sequence number for the service type."},
			},
			Required: []string{"service_type_id"},
		},
	},
	{
		ID:          "pco_services:delete_service_type",
		Name:        "delete_service_type",
		Description: "Delete a service type from Planning Center Online.",
		Annotations: modules.AnnotateDelete,
		InputSchema: modules.InputSchema{
			Type: "object",
			Properties: map[string]modules.Property{
				"service_type_id": propServiceTypeID,
			},
			Required: []string{"service_type_id"},
		},
	},
	// Plans
	{
		ID:          "pco_services:get_plans",
		Name:        "get_plans",
		Description: "Fetch the plans of a service type, most recently updated first.",
		Annotations: modules.AnnotateReadOnly,
		InputSchema: modules.InputSchema{
			Type: "object",
			Properties: map[string]modules.Property{
				"service_type_id": propServiceTypeID,
			},
			Required: []string{"service_type_id"},
		},
	},
	{
		ID:          "pco_services:create_plan",
		Name:        "create_plan",
		Description: "Create a new plan for a service type in Planning Center Online.",
		Annotations: modules.AnnotateCreate,
		InputSchema: modules.InputSchema{
			Type: "object",
			Properties: map[string]modules.Property{
				"service_type_id": propServiceTypeID,
				"title":           {Type: "string", Description: "The title of the plan."},
				"public":          {Type: "boolean", Description: "Whether the plan is publicly visible."},
				"series_title":    {Type: "string", Description: "The series title for the plan."},
			},
			Required: []string{"service_type_id"},
		},
	},
	{
		ID:          "pco_services:update_plan",
		Name:        "update_plan",
		Description: "Update an existing plan in Planning Center Online. Only the given fields change.",
		Annotations: modules.AnnotateUpdate,
		InputSchema: modules.InputSchema{
			Type: "object",
			Properties: map[string]modules.Property{
				"service_type_id": propServiceTypeID,
				"plan_id":         propPlanID,
				"title":           {Type: "string", Description: "The new title for the plan."},
				"public":          {Type: "boolean", Description: "Whether the plan should be publicly visible."},
				"series_title":    {Type: "string", Description: "The new series title for the plan."},
			},
			Required: []string{"service_type_id", "plan_id"},
		},
	},
	{
		ID:          "pco_services:delete_plan",
		Name:        "delete_plan",
		Description: "Delete a plan from Planning Center Online.",
		Annotations: modules.AnnotateDelete,
		InputSchema: modules.InputSchema{
			Type: "object",
			Properties: map[string]modules.Property{
				"service_type_id": propServiceTypeID,
				"plan_id":         propPlanID,
			},
			Required: []string{"service_type_id", "plan_id"},
		},
	},
	// Plan Times
	{
		ID:          "pco_services:get_plan_times",
		Name:        "get_plan_times",
		Description: "Fetch the times of a plan, such as rehearsals or services.",
		Annotations: modules.AnnotateReadOnly,
		InputSchema: modules.InputSchema{
			Type: "object",
			Properties: map[string]modules.Property{
				"service_type_id": propServiceTypeID,
				"plan_id":         propPlanID,
			},
			Required: []string{"service_type_id", "plan_id"},
		},
	},
	{
		ID:          "pco_services:create_plan_time",
		Name:        "create_plan_time",
		Description: "Create a new time (rehearsal, service or other) for a plan.",
		Annotations: modules.AnnotateCreate,
		InputSchema: modules.InputSchema{
			Type: "object",
			Properties: map[string]modules.Property{
				"service_type_id": propServiceTypeID,
				"plan_id":         propPlanID,
				"starts_at":       {Type: "string", Description: `Start time in ISO 8601 format (e.g., "2025-03-01T09:00:00Z").`},
				"ends_at":         {Type: "string", Description: `End time in ISO 8601 format (e.g., "2025-03-01T11:00:00Z").`},
				"time_type":       {Type: "string", Description: `The type of time: "rehearsal", "service" or "other".`},
				"name":            {Type: "string", Description: `A name for this time (e.g., "Morning Rehearsal").`},
			},
			Required: []string{"service_type_id", "plan_id", "starts_at", "ends_at"},
		},
	},
	{
		ID:          "pco_services:update_plan_time",
		Name:        "update_plan_time",
		Description: "Update an existing plan time. Only the given fields change.",
		Annotations: modules.AnnotateUpdate,
		InputSchema: modules.InputSchema{
			Type: "object",
			Properties: map[string]modules.Property{
				"service_type_id": propServiceTypeID,
				"plan_id":         propPlanID,
				"plan_time_id":    {Type: "string", Description: "The ID of the plan time to update."},
				"starts_at":       {Type: "string", Description: "The new start time in ISO 8601 format."},
				"ends_at":         {Type: "string", Description: "The new end time in ISO 8601 format."},
				"time_type":       {Type: "string", Description: `The new type of time: "rehearsal", "service" or "other".`},
				"name":            {Type: "string", Description: "The new name for this time."},
			},
			Required: []string{"service_type_id", "plan_id", "plan_time_id"},
		},
	},
	{
		ID:          "pco_services:delete_plan_time",
		Name:        "delete_plan_time",
		Description: "Delete a plan time from a plan.",
		Annotations: modules.AnnotateDelete,
		InputSchema: modules.InputSchema{
			Type: "object",
			Properties: map[string]modules.Property{
				"service_type_id": propServiceTypeID,
				"plan_id":         propPlanID,
				"plan_time_id":    {Type: "string", Description: "The ID of the plan time to delete."},
			},
			Required: []string{"service_type_id", "plan_id", "plan_time_id"},
		},
	},
	// Plan Items
	{
		ID:          "pco_services:get_plan_items",
		Name:        "get_plan_items",
		Description: "Fetch the items of a plan.",
		Annotations: modules.AnnotateReadOnly,
		InputSchema: modules.InputSchema{
			Type: "object",
			Properties: map[string]modules.Property{
				"plan_id": propPlanID,
			},
			Required: []string{"plan_id"},
		},
	},
	{
		ID:          "pco_services:create_plan_item",
		Name:        "create_plan_item",
		Description: "Create a new item in a plan.",
		Annotations: modules.AnnotateCreate,
		InputSchema: modules.InputSchema{
			Type: "object",
			Properties: map[string]modules.Property{
				"service_type_id":  propServiceTypeID,
				"plan_id":          propPlanID,
				"title":            {Type: "string", Description: "The title of the item."},
				"item_type":        {Type: "string", Description: `The type of item: "song", "header", "media" or "item".`},
				"length":           {Type: "integer", Description: "The length of the item in seconds."},
				"service_position": {Type: "string", Description: `Position in service: "pre" or "post" (omit for during).`},
				"description":      {Type: "string", Description: "A description for the item."},
				"song_id":          {Type: "string", Description: "The ID of a song to associate (for song items)."},
				"arrangement_id":   {Type: "string", Description: "The ID of a specific arrangement to use."},
				"key_id":           {Type: "string", Description: "The ID of a specific key to use."},
			},
			Required: []string{"service_type_id", "plan_id", "title", "item_type"},
		},
	},
	{
		ID:          "pco_services:update_plan_item",
		Name:        "update_plan_item",
		Description: "Update an existing item in a plan. Only the given fields change.",
		Annotations: modules.AnnotateUpdate,
		InputSchema: modules.InputSchema{
			Type: "object",
			Properties: map[string]modules.Property{
				"service_type_id":  propServiceTypeID,
				"plan_id":          propPlanID,
				"item_id":          {Type: "string", Description: "The ID of the item to update."},
				"title":            {Type: "string", Description: "The new title for the item."},
				"length":           {Type: "integer", Description: "The new length in seconds."},
				"service_position": {Type: "string", Description: `New position: "pre" or "post" (omit for during).`},
				"description":      {Type: "string", Description: "The new description."},
				"sequence":         {Type: "integer", Description: "The new sequence number for ordering."},
			},
			Required: []string{"service_type_id", "plan_id", "item_id"},
		},
	},
	{
		ID:          "pco_services:delete_plan_item",
		Name:        "delete_plan_item",
		Description: "Delete an item from a plan.",
		Annotations: modules.AnnotateDelete,
		InputSchema: modules.InputSchema{
			Type: "object",
			Properties: map[string]modules.Property{
				"service_type_id": propServiceTypeID,
				"plan_id":         propPlanID,
				"item_id":         {Type: "string", Description: "The ID of the item to delete."},
			},
			Required: []string{"service_type_id", "plan_id", "item_id"},
		},
	},
	{
		ID:          "pco_services:reorder_plan_items",
		Name:        "reorder_plan_items",
		Description: "Reorder the items of a plan. item_ids must list every item of the plan in the desired order.",
		Annotations: modules.AnnotateUpdate,
		InputSchema: modules.InputSchema{
			Type: "object",
			Properties: map[string]modules.Property{
				"service_type_id": propServiceTypeID,
				"plan_id":         propPlanID,
				"item_ids": {
					Type:        "array",
					Description: "Ordered list of item IDs representing the desired order.",
					Items:       &modules.Property{Type: "string"},
				},
			},
			Required: []string{"service_type_id", "plan_id", "item_ids"},
		},
	},
	// Team Members
	{
		ID:          "pco_services:get_plan_team_members",
		Name:        "get_plan_team_members",
		Description: "Fetch the team members of a plan.",
		Annotations: modules.AnnotateReadOnly,
		InputSchema: modules.InputSchema{
			Type: "object",
			Properties: map[string]modules.Property{
				"plan_id": propPlanID,
			},
			Required: []string{"plan_id"},
		},
	},
	{
		ID:          "pco_services:assign_team_member",
		Name:        "assign_team_member",
		Description: "Assign a person as a team member to a plan.",
		Annotations: modules.AnnotateCreate,
		InputSchema: modules.InputSchema{
			Type: "object",
			Properties: map[string]modules.Property{
				"service_type_id":      propServiceTypeID,
				"plan_id":              propPlanID,
				"person_id":            {Type: "string", Description: "The ID of the person to assign."},
				"team_position_name":   {Type: "string", Description: `The team position name (e.g., "Vocals", "Sound").`},
				"status":               propStatus,
				"prepare_notification": {Type: "boolean", Description: "Whether to send a notification to the person."},
			},
			Required: []string{"service_type_id", "plan_id", "person_id"},
		},
	},
	{
		ID:          "pco_services:update_team_member",
		Name:        "update_team_member",
		Description: "Update a team member assignment on a plan. Only the given fields change.",
		Annotations: modules.AnnotateUpdate,
		InputSchema: modules.InputSchema{
			Type: "object",
			Properties: map[string]modules.Property{
				"service_type_id":    propServiceTypeID,
				"plan_id":            propPlanID,
				"team_member_id":     {Type: "string", Description: "The ID of the team member assignment to update."},
				"status":             propStatus,
				"notes":              {Type: "string", Description: "Notes for the team member."},
				"team_position_name": {Type: "string", Description: "The new team position name."},
			},
			Required: []string{"service_type_id", "plan_id", "team_member_id"},
		},
	},
	{
		ID:          "pco_services:remove_team_member",
		Name:        "remove_team_member",
		Description: "Remove a team member from a plan.",
		Annotations: modules.AnnotateDelete,
		InputSchema: modules.InputSchema{
			Type: "object",
			Properties: map[string]modules.Property{
				"service_type_id": propServiceTypeID,
				"plan_id":         propPlanID,
				"team_member_id":  {Type: "string", Description: "The ID of the team member assignment to remove."},
			},
			Required: []string{"service_type_id", "plan_id", "team_member_id"},
		},
	},
	// Schedules
	{
		ID:          "pco_services:get_person_schedules",
		Name:        "get_person_schedules",
		Description: "Fetch the upcoming service assignments (schedules) of a person.",
		Annotations: modules.AnnotateReadOnly,
		InputSchema: modules.InputSchema{
			Type: "object",
			Properties: map[string]modules.Property{
				"person_id": propPersonID,
			},
			Required: []string{"person_id"},
		},
	},
	{
		ID:          "pco_services:accept_schedule",
		Name:        "accept_schedule",
		Description: "Accept a schedule assignment for a person.",
		Annotations: modules.AnnotateUpdate,
		InputSchema: modules.InputSchema{
			Type: "object",
			Properties: map[string]modules.Property{
				"person_id":   propPersonID,
				"schedule_id": {Type: "string", Description: "The ID of the schedule to accept."},
			},
			Required: []string{"person_id", "schedule_id"},
		},
	},
	{
		ID:          "pco_services:decline_schedule",
		Name:        "decline_schedule",
		Description: "Decline a schedule assignment for a person.",
		Annotations: modules.AnnotateUpdate,
		InputSchema: modules.InputSchema{
			Type: "object",
			Properties: map[string]modules.Property{
				"person_id":   propPersonID,
				"schedule_id": {Type: "string", Description: "The ID of the schedule to decline."},
				"reason":      {Type: "string", Description: "The reason for declining the schedule."},
			},
			Required: []string{"person_id", "schedule_id"},
		},
	},
	// Songs
	{
		ID:          "pco_services:get_songs",
		Name:        "get_songs",
		Description: "Fetch up to 200 visible songs from Planning Center Online.",
		Annotations: modules.AnnotateReadOnly,
		InputSchema: noParams,
	},
	{
		ID:          "pco_services:get_song",
		Name:        "get_song",
		Description: "Fetch details for a specific song.",
		Annotations: modules.AnnotateReadOnly,
		InputSchema: modules.InputSchema{
			Type: "object",
			Properties: map[string]modules.Property{
				"song_id": propSongID,
			},
			Required: []string{"song_id"},
		},
	},
	{
		ID:          "pco_services:find_song_by_title",
		Name:        "find_song_by_title",
		Description: "Find visible songs by title.",
		Annotations: modules.AnnotateReadOnly,
		InputSchema: modules.InputSchema{
			Type: "object",
			Properties: map[string]modules.Property{
				"title": {Type: "string", Description: "The title of the song to search for."},
			},
			Required: []string{"title"},
		},
	},
	{
		ID:          "pco_services:create_song",
		Name:        "create_song",
		Description: "Create a new song in Planning Center Online.",
		Annotations: modules.AnnotateCreate,
		InputSchema: modules.InputSchema{
			Type: "object",
			Properties: map[string]modules.Property{
				"title": {Type: "string", Description: "The title of the song."},
				"ccli":  {Type: "string", Description: "The CCLI number for the song."},
			},
			Required: []string{"title"},
		},
	},
	{
		ID:          "pco_services:get_all_arrangements_for_song",
		Name:        "get_all_arrangements_for_song",
		Description: "Get all the arrangements of a song.",
		Annotations: modules.AnnotateReadOnly,
		InputSchema: modules.InputSchema{
			Type: "object",
			Properties: map[string]modules.Property{
				"song_id": propSongID,
			},
			Required: []string{"song_id"},
		},
	},
	{
		ID:          "pco_services:get_arrangement_for_song",
		Name:        "get_arrangement_for_song",
		Description: "Get one arrangement of a song.",
		Annotations: modules.AnnotateReadOnly,
		InputSchema: modules.InputSchema{
			Type: "object",
			Properties: map[string]modules.Property{
				"song_id":        propSongID,
				"arrangement_id": propArrangementID,
			},
			Required: []string{"song_id", "arrangement_id"},
		},
	},
	{
		ID:          "pco_services:get_keys_for_arrangement_of_song",
		Name:        "get_keys_for_arrangement_of_song",
		Description: "Get the keys available for an arrangement of a song.",
		Annotations: modules.AnnotateReadOnly,
		InputSchema: modules.InputSchema{
			Type: "object",
			Properties: map[string]modules.Property{
				"song_id":        propSongID,
				"arrangement_id": propArrangementID,
			},
			Required: []string{"song_id", "arrangement_id"},
		},
	},
	// Tags
	{
		ID:          "pco_services:assign_tags_to_song",
		Name:        "assign_tags_to_song",
		Description: "Assign song tags to a song by tag name. Unknown names are ignored.",
		Annotations: modules.AnnotateUpdate,
		InputSchema: modules.InputSchema{
			Type: "object",
			Properties: map[string]modules.Property{
				"song_id":   propSongID,
				"tag_names": propTagNames,
			},
			Required: []string{"song_id", "tag_names"},
		},
	},
	{
		ID:          "pco_services:find_songs_by_tags",
		Name:        "find_songs_by_tags",
		Description: "Find visible songs that have all of the given tags. Unknown names are ignored.",
		Annotations: modules.AnnotateReadOnly,
		InputSchema: modules.InputSchema{
			Type: "object",
			Properties: map[string]modules.Property{
				"tag_names": propTagNames,
			},
			Required: []string{"tag_names"},
		},
	},
}

// =============================================================================
// Tool Handlers
// =============================================================================

var toolHandlers = map[string]toolHandler{
	// Service Types
	"get_service_types":   getServiceTypes,
	"create_service_type": createServiceType,
	"update_service_type": updateServiceType,
	"delete_service_type": deleteServiceType,
	// Plans
	"get_plans":   getPlans,
	"create_plan": createPlan,
	"update_plan": updatePlan,
	"delete_plan": deletePlan,
	// Plan Times
	"get_plan_times":   getPlanTimes,
	"create_plan_time": createPlanTime,
	"update_plan_time": updatePlanTime,
	"delete_plan_time": deletePlanTime,
	// Plan Items
	"get_plan_items":     getPlanItems,
	"create_plan_item":   createPlanItem,
	"update_plan_item":   updatePlanItem,
	"delete_plan_item":   deletePlanItem,
	"reorder_plan_items": reorderPlanItems,
	// Team Members
	"get_plan_team_members": getPlanTeamMembers,
	"assign_team_member":    assignTeamMember,
	"update_team_member":    updateTeamMember,
	"remove_team_member":    removeTeamMember,
	// Schedules
	"get_person_schedules": getPersonSchedules,
	"accept_schedule":      acceptSchedule,
	"decline_schedule":     declineSchedule,
	// Songs
	"get_songs":                        getSongs,
	"get_song":                         getSong,
	"find_song_by_title":               findSongByTitle,
	"create_song":                      createSong,
	"get_all_arrangements_for_song":    getAllArrangementsForSong,
	"get_arrangement_for_song":         getArrangementForSong,
	"get_keys_for_arrangement_of_song": getKeysForArrangementOfSong,
	// Tags
	"assign_tags_to_song": assignTagsToSong,
	"find_songs_by_tags":  findSongsByTags,
}
