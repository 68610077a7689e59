package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/azardenmark/dashboard-sub000/core"
	"github.com/azardenmark/dashboard-sub000/core/school"
)

type schoolAPI struct {
	svc    *school.Service
	logger core.Logger
}

// registerSchoolAPI mounts the kindergarten network endpoints on g, which must already be
// restricted to admins.
func registerSchoolAPI(g *echo.Group, svc *school.Service, logger core.Logger) {
	api := schoolAPI{svc: svc, logger: logger}

	kg := g.Group("/kindergartens")
	kg.GET("", api.listKindergartens)
	kg.POST("", api.createKindergarten)
	kg.GET("/:id", api.retrieveKindergarten)
	kg.PUT("/:id", api.updateKindergarten)
	kg.DELETE("/:id", api.destroyKindergarten)
	kg.GET("/:id/branches", api.listBranches)
	kg.POST("/:id/reconcile", api.reconcile)
	kg.GET("/:id/live", api.live)

	bg := g.Group("/branches")
	bg.POST("", api.createBranch)
	bg.GET("/:id", api.retrieveBranch)
	bg.PUT("/:id", api.updateBranch)
	bg.DELETE("/:id", api.destroyBranch)

	cg := g.Group("/classes")
	cg.GET("", api.listClasses)
	cg.POST("", api.createClass)
	cg.GET("/:id", api.retrieveClass)
	cg.PUT("/:id", api.updateClass)
	cg.DELETE("/:id", api.destroyClass)
	cg.POST("/:id/students", api.moveStudents)

	sg := g.Group("/students")
	sg.GET("", api.listStudents)
	sg.POST("", api.createStudent)
	sg.GET("/:id", api.retrieveStudent)
	sg.PUT("/:id", api.updateStudent)
	sg.DELETE("/:id", api.destroyStudent)
	sg.PUT("/:id/guardians", api.setStudentGuardians)

	tg := g.Group("/teachers")
	tg.GET("", api.listTeachers)
	tg.POST("", api.createTeacher)
	tg.GET("/:id", api.retrieveTeacher)
	tg.PUT("/:id", api.updateTeacher)
	tg.PUT("/:id/active", api.setTeacherActive)
	tg.DELETE("/:id", api.destroyTeacher)
	tg.POST("/:id/"+school.CategoryCertificates, api.uploadAttachment(school.KindTeacher, school.CategoryCertificates))
	tg.DELETE("/:id/"+school.CategoryCertificates, api.deleteAttachment(school.KindTeacher, school.CategoryCertificates))

	dg := g.Group("/drivers")
	dg.GET("", api.listDrivers)
	dg.POST("", api.createDriver)
	dg.GET("/:id", api.retrieveDriver)
	dg.PUT("/:id", api.updateDriver)
	dg.DELETE("/:id", api.destroyDriver)
	dg.POST("/:id/"+school.CategoryLicenses, api.uploadAttachment(school.KindDriver, school.CategoryLicenses))
	dg.DELETE("/:id/"+school.CategoryLicenses, api.deleteAttachment(school.KindDriver, school.CategoryLicenses))

	gg := g.Group("/guardians")
	gg.GET("", api.listGuardians)
	gg.POST("", api.createGuardian)
	gg.GET("/:id", api.retrieveGuardian)
	gg.PUT("/:id", api.updateGuardian)
	gg.DELETE("/:id", api.destroyGuardian)

	g.POST("/reconcile", api.reconcileAll)

	jg := g.Group("/jobs")
	jg.GET("", api.listJobs)
	jg.GET("/:id", api.retrieveJob)
	jg.POST("/:id/resume", api.resumeJob)
}

type (
	MoveStudentsRequest struct {
		StudentIDs []string `json:"studentIds"`
	}

	GuardiansRequest struct {
		GuardianIDs []string `json:"guardianIds"`
	}

	ActiveRequest struct {
		Active bool `json:"active"`
	}
)

// respond writes v as JSON with code, or returns err wrapped with msg.
func respond(ctx echo.Context, code int, v interface{}, err error, msg string) error {
	if err != nil {
		return errors.Wrap(err, msg)
	}
	if code == http.StatusNoContent {
		return ctx.NoContent(code)
	}
	return ctx.JSON(code, v)
}

// Kindergartens

func (api *schoolAPI) listKindergartens(ctx echo.Context) error {
	ks, err := api.svc.ListKindergartens(ctx.Request().Context())
	return respond(ctx, http.StatusOK, ks, err, "listing kindergartens")
}

func (api *schoolAPI) createKindergarten(ctx echo.Context) error {
	var data school.NewKindergarten
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewKindergarten")
	}
	k, err := api.svc.CreateKindergarten(ctx.Request().Context(), data)
	return respond(ctx, http.StatusCreated, k, err, "creating kindergarten")
}

func (api *schoolAPI) retrieveKindergarten(ctx echo.Context) error {
	k, err := api.svc.GetKindergarten(ctx.Request().Context(), ctx.Param("id"))
	return respond(ctx, http.StatusOK, k, err, "getting kindergarten")
}

func (api *schoolAPI) updateKindergarten(ctx echo.Context) error {
	var data school.UpdateKindergarten
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateKindergarten")
	}
	k, err := api.svc.UpdateKindergarten(ctx.Request().Context(), ctx.Param("id"), data)
	return respond(ctx, http.StatusOK, k, err, "updating kindergarten")
}

func (api *schoolAPI) destroyKindergarten(ctx echo.Context) error {
	res, err := api.svc.DeleteKindergarten(ctx.Request().Context(), ctx.Param("id"))
	return respond(ctx, http.StatusOK, res, err, "deleting kindergarten")
}

func (api *schoolAPI) reconcile(ctx echo.Context) error {
	report, err := api.svc.Reconcile(ctx.Request().Context(), ctx.Param("id"))
	return respond(ctx, http.StatusOK, report, err, "reconciling kindergarten")
}

func (api *schoolAPI) reconcileAll(ctx echo.Context) error {
	reports, err := api.svc.ReconcileAll(ctx.Request().Context())
	return respond(ctx, http.StatusOK, reports, err, "reconciling kindergartens")
}

// Branches

func (api *schoolAPI) listBranches(ctx echo.Context) error {
	bs, err := api.svc.ListBranches(ctx.Request().Context(), ctx.Param("id"))
	return respond(ctx, http.StatusOK, bs, err, "listing branches")
}

func (api *schoolAPI) createBranch(ctx echo.Context) error {
	var data school.NewBranch
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewBranch")
	}
	b, err := api.svc.CreateBranch(ctx.Request().Context(), data)
	return respond(ctx, http.StatusCreated, b, err, "creating branch")
}

func (api *schoolAPI) retrieveBranch(ctx echo.Context) error {
	b, err := api.svc.GetBranch(ctx.Request().Context(), ctx.Param("id"))
	return respond(ctx, http.StatusOK, b, err, "getting branch")
}

func (api *schoolAPI) updateBranch(ctx echo.Context) error {
	var data school.UpdateBranch
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateBranch")
	}
	b, err := api.svc.UpdateBranch(ctx.Request().Context(), ctx.Param("id"), data)
	return respond(ctx, http.StatusOK, b, err, "updating branch")
}

func (api *schoolAPI) destroyBranch(ctx echo.Context) error {
	res, err := api.svc.DeleteBranch(ctx.Request().Context(), ctx.Param("id"))
	return respond(ctx, http.StatusOK, res, err, "deleting branch")
}

// Classes

func (api *schoolAPI) listClasses(ctx echo.Context) error {
	var filter school.ClassFilter
	if err := ctx.Bind(&filter); err != nil {
		return errors.Wrap(err, "binding to ClassFilter")
	}
	cs, err := api.svc.ListClasses(ctx.Request().Context(), filter)
	return respond(ctx, http.StatusOK, cs, err, "listing classes")
}

func (api *schoolAPI) createClass(ctx echo.Context) error {
	var data school.NewClass
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewClass")
	}
	c, err := api.svc.CreateClass(ctx.Request().Context(), data)
	return respond(ctx, http.StatusCreated, c, err, "creating class")
}

func (api *schoolAPI) retrieveClass(ctx echo.Context) error {
	c, err := api.svc.GetClass(ctx.Request().Context(), ctx.Param("id"))
	return respond(ctx, http.StatusOK, c, err, "getting class")
}

func (api *schoolAPI) updateClass(ctx echo.Context) error {
	var data school.UpdateClass
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateClass")
	}
	res, err := api.svc.UpdateClass(ctx.Request().Context(), ctx.Param("id"), data)
	return respond(ctx, http.StatusOK, res, err, "updating class")
}

func (api *schoolAPI) destroyClass(ctx echo.Context) error {
	res, err := api.svc.DeleteClass(ctx.Request().Context(), ctx.Param("id"))
	return respond(ctx, http.StatusOK, res, err, "deleting class")
}

func (api *schoolAPI) moveStudents(ctx echo.Context) error {
	var data MoveStudentsRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to MoveStudentsRequest")
	}
	res, err := api.svc.MoveStudents(ctx.Request().Context(), data.StudentIDs, ctx.Param("id"))
	return respond(ctx, http.StatusOK, res, err, "moving students")
}

// Students

func (api *schoolAPI) listStudents(ctx echo.Context) error {
	var filter school.StudentFilter
	if err := ctx.Bind(&filter); err != nil {
		return errors.Wrap(err, "binding to StudentFilter")
	}
	ss, err := api.svc.ListStudents(ctx.Request().Context(), filter)
	return respond(ctx, http.StatusOK, ss, err, "listing students")
}

func (api *schoolAPI) createStudent(ctx echo.Context) error {
	var data school.NewStudent
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewStudent")
	}
	res, err := api.svc.CreateStudent(ctx.Request().Context(), data)
	return respond(ctx, http.StatusCreated, res, err, "creating student")
}

func (api *schoolAPI) retrieveStudent(ctx echo.Context) error {
	s, err := api.svc.GetStudent(ctx.Request().Context(), ctx.Param("id"))
	return respond(ctx, http.StatusOK, s, err, "getting student")
}

func (api *schoolAPI) updateStudent(ctx echo.Context) error {
	var data school.UpdateStudent
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateStudent")
	}
	res, err := api.svc.UpdateStudent(ctx.Request().Context(), ctx.Param("id"), data)
	return respond(ctx, http.StatusOK, res, err, "updating student")
}

func (api *schoolAPI) destroyStudent(ctx echo.Context) error {
	res, err := api.svc.DeleteStudent(ctx.Request().Context(), ctx.Param("id"))
	return respond(ctx, http.StatusOK, res, err, "deleting student")
}

func (api *schoolAPI) setStudentGuardians(ctx echo.Context) error {
	var data GuardiansRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to GuardiansRequest")
	}
	res, err := api.svc.SetStudentGuardians(ctx.Request().Context(), ctx.Param("id"), data.GuardianIDs)
	return respond(ctx, http.StatusOK, res, err, "setting student guardians")
}

// Teachers

func (api *schoolAPI) listTeachers(ctx echo.Context) error {
	var filter school.StaffFilter
	if err := ctx.Bind(&filter); err != nil {
		return errors.Wrap(err, "binding to StaffFilter")
	}
	ts, err := api.svc.ListTeachers(ctx.Request().Context(), filter)
	return respond(ctx, http.StatusOK, ts, err, "listing teachers")
}

func (api *schoolAPI) createTeacher(ctx echo.Context) error {
	var data school.NewTeacher
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewTeacher")
	}
	t, err := api.svc.CreateTeacher(ctx.Request().Context(), data)
	return respond(ctx, http.StatusCreated, t, err, "creating teacher")
}

func (api *schoolAPI) retrieveTeacher(ctx echo.Context) error {
	t, err := api.svc.GetTeacher(ctx.Request().Context(), ctx.Param("id"))
	return respond(ctx, http.StatusOK, t, err, "getting teacher")
}

func (api *schoolAPI) updateTeacher(ctx echo.Context) error {
	var data school.UpdateTeacher
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateTeacher")
	}
	t, err := api.svc.UpdateTeacher(ctx.Request().Context(), ctx.Param("id"), data)
	return respond(ctx, http.StatusOK, t, err, "updating teacher")
}

func (api *schoolAPI) setTeacherActive(ctx echo.Context) error {
	var data ActiveRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ActiveRequest")
	}
	t, err := api.svc.SetTeacherActive(ctx.Request().Context(), ctx.Param("id"), data.Active)
	return respond(ctx, http.StatusOK, t, err, "setting teacher active")
}

func (api *schoolAPI) destroyTeacher(ctx echo.Context) error {
	err := api.svc.DeleteTeacher(ctx.Request().Context(), ctx.Param("id"))
	return respond(ctx, http.StatusNoContent, nil, err, "deleting teacher")
}

// Drivers

func (api *schoolAPI) listDrivers(ctx echo.Context) error {
	var filter school.StaffFilter
	if err := ctx.Bind(&filter); err != nil {
		return errors.Wrap(err, "binding to StaffFilter")
	}
	ds, err := api.svc.ListDrivers(ctx.Request().Context(), filter)
	return respond(ctx, http.StatusOK, ds, err, "listing drivers")
}

func (api *schoolAPI) createDriver(ctx echo.Context) error {
	var data school.NewDriver
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewDriver")
	}
	d, err := api.svc.CreateDriver(ctx.Request().Context(), data)
	return respond(ctx, http.StatusCreated, d, err, "creating driver")
}

func (api *schoolAPI) retrieveDriver(ctx echo.Context) error {
	d, err := api.svc.GetDriver(ctx.Request().Context(), ctx.Param("id"))
	return respond(ctx, http.StatusOK, d, err, "getting driver")
}

func (api *schoolAPI) updateDriver(ctx echo.Context) error {
	var data school.UpdateDriver
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateDriver")
	}
	d, err := api.svc.UpdateDriver(ctx.Request().Context(), ctx.Param("id"), data)
	return respond(ctx, http.StatusOK, d, err, "updating driver")
}

func (api *schoolAPI) destroyDriver(ctx echo.Context) error {
	err := api.svc.DeleteDriver(ctx.Request().Context(), ctx.Param("id"))
	return respond(ctx, http.StatusNoContent, nil, err, "deleting driver")
}

// Guardians

func (api *schoolAPI) listGuardians(ctx echo.Context) error {
	gs, err := api.svc.ListGuardians(ctx.Request().Context())
	return respond(ctx, http.StatusOK, gs, err, "listing guardians")
}

func (api *schoolAPI) createGuardian(ctx echo.Context) error {
	var data school.NewGuardian
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewGuardian")
	}
	g, err := api.svc.CreateGuardian(ctx.Request().Context(), data)
	return respond(ctx, http.StatusCreated, g, err, "creating guardian")
}

func (api *schoolAPI) retrieveGuardian(ctx echo.Context) error {
	g, err := api.svc.GetGuardian(ctx.Request().Context(), ctx.Param("id"))
	return respond(ctx, http.StatusOK, g, err, "getting guardian")
}

func (api *schoolAPI) updateGuardian(ctx echo.Context) error {
	var data school.UpdateGuardian
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateGuardian")
	}
	g, err := api.svc.UpdateGuardian(ctx.Request().Context(), ctx.Param("id"), data)
	return respond(ctx, http.StatusOK, g, err, "updating guardian")
}

func (api *schoolAPI) destroyGuardian(ctx echo.Context) error {
	res, err := api.svc.DeleteGuardian(ctx.Request().Context(), ctx.Param("id"))
	return respond(ctx, http.StatusOK, res, err, "deleting guardian")
}

// Jobs

func (api *schoolAPI) listJobs(ctx echo.Context) error {
	jobs, err := api.svc.ListJobs(ctx.Request().Context(), school.JobStatus(ctx.QueryParam("status")))
	return respond(ctx, http.StatusOK, jobs, err, "listing jobs")
}

func (api *schoolAPI) retrieveJob(ctx echo.Context) error {
	job, err := api.svc.GetJob(ctx.Request().Context(), ctx.Param("id"))
	return respond(ctx, http.StatusOK, job, err, "getting job")
}

func (api *schoolAPI) resumeJob(ctx echo.Context) error {
	job, err := api.svc.ResumeJob(ctx.Request().Context(), ctx.Param("id"))
	return respond(ctx, http.StatusOK, job, err, "resuming job")
}
