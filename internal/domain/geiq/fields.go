package geiq

// Partner fields of the label API.
const (
	FieldID               = "id"
	FieldLastName         = "nom"
	FieldFirstName        = "prenom"
	FieldBirthdate        = "date_naissance"
	FieldPriorityStatuses = "statuts_prioritaires"
	FieldEmployeeID       = "salarie_id"
	FieldStartDate        = "date_debut"
	FieldPlannedEndDate   = "date_fin_prevue"
	FieldEndDate          = "date_fin"
	FieldWeeklyHours      = "nb_heure_hebdo"
)

// Local columns.
const (
	ColumnLabelID         = "label_id"
	ColumnLastName        = "last_name"
	ColumnFirstName       = "first_name"
	ColumnBirthdate       = "birthdate"
	ColumnStatuses        = "statuses"
	ColumnOtherData       = "other_data"
	ColumnSupportDays     = "support_days_nb"
	ColumnAnnex1          = "annex1_nb"
	ColumnAnnex2Level1    = "annex2_level1_nb"
	ColumnAnnex2Level2    = "annex2_level2_nb"
	ColumnAllowanceAmount = "allowance_amount"

	ColumnEmployeeLabelID    = "employee_label_id"
	ColumnStartAt            = "start_at"
	ColumnPlannedEndAt       = "planned_end_at"
	ColumnEndAt              = "end_at"
	ColumnWeeklyHours        = "weekly_hours"
	ColumnAllowanceRequested = "allowance_requested"
)
